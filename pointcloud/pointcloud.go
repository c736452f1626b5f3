// Package pointcloud defines an ordered 3D point cloud. Point order follows
// the row-major scan order of the frame the cloud was derived from, so a point
// at index i corresponds to the i-th valid pixel of its source frame.
package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// Point is a single cloud element, optionally colored.
type Point struct {
	Position r3.Vector
	Color    color.NRGBA
	HasColor bool
}

// MetaData is aggregate information about the points in a cloud.
type MetaData struct {
	HasColor bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns MetaData initialized for merging.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64, MaxX: -math.MaxFloat64,
		MinY: math.MaxFloat64, MaxY: -math.MaxFloat64,
		MinZ: math.MaxFloat64, MaxZ: -math.MaxFloat64,
	}
}

// Merge folds a point into the metadata.
func (meta *MetaData) Merge(p Point) {
	if p.HasColor {
		meta.HasColor = true
	}
	v := p.Position
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
}

// Cloud is an ordered, slice-backed point cloud. The zero value is an empty
// cloud ready for use. A capture call that fills a Cloud resets it first, so
// one Cloud can be reused across frames without reallocating.
type Cloud struct {
	points []Point
	meta   MetaData
}

// New returns an empty Cloud.
func New() *Cloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty Cloud with capacity for size points.
func NewWithPrealloc(size int) *Cloud {
	return &Cloud{
		points: make([]Point, 0, size),
		meta:   NewMetaData(),
	}
}

// Size returns the number of points.
func (cloud *Cloud) Size() int {
	return len(cloud.points)
}

// MetaData returns aggregate information about the cloud.
func (cloud *Cloud) MetaData() MetaData {
	return cloud.meta
}

// Reset empties the cloud, keeping its backing storage.
func (cloud *Cloud) Reset() {
	cloud.points = cloud.points[:0]
	cloud.meta = NewMetaData()
}

// Append adds a point at the end of the scan order.
func (cloud *Cloud) Append(p Point) {
	cloud.points = append(cloud.points, p)
	cloud.meta.Merge(p)
}

// AppendVector adds an uncolored point.
func (cloud *Cloud) AppendVector(v r3.Vector) {
	cloud.Append(Point{Position: v})
}

// AppendColored adds a colored point.
func (cloud *Cloud) AppendColored(v r3.Vector, c color.NRGBA) {
	cloud.Append(Point{Position: v, Color: c, HasColor: true})
}

// At returns the i-th point in scan order.
func (cloud *Cloud) At(i int) Point {
	return cloud.points[i]
}

// Iterate calls fn for each point in scan order until fn returns false.
func (cloud *Cloud) Iterate(fn func(i int, p Point) bool) {
	for i, p := range cloud.points {
		if !fn(i, p) {
			return
		}
	}
}
