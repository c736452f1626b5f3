package pointcloud

import (
	"image/color"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestCloudBasic(t *testing.T) {
	cloud := New()
	test.That(t, cloud.Size(), test.ShouldEqual, 0)

	cloud.AppendVector(r3.Vector{X: 1, Y: 2, Z: 3})
	cloud.AppendVector(r3.Vector{X: -1, Y: 0, Z: 5})
	test.That(t, cloud.Size(), test.ShouldEqual, 2)
	test.That(t, cloud.At(0).Position, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, cloud.At(1).Position, test.ShouldResemble, r3.Vector{X: -1, Y: 0, Z: 5})

	meta := cloud.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeFalse)
	test.That(t, meta.MinX, test.ShouldEqual, -1)
	test.That(t, meta.MaxX, test.ShouldEqual, 1)
	test.That(t, meta.MinZ, test.ShouldEqual, 3)
	test.That(t, meta.MaxZ, test.ShouldEqual, 5)
}

func TestCloudOrderPreserved(t *testing.T) {
	cloud := NewWithPrealloc(10)
	for i := 0; i < 10; i++ {
		cloud.AppendVector(r3.Vector{X: float64(i)})
	}
	count := 0
	cloud.Iterate(func(i int, p Point) bool {
		test.That(t, p.Position.X, test.ShouldEqual, float64(i))
		count++
		return true
	})
	test.That(t, count, test.ShouldEqual, 10)

	// early stop
	count = 0
	cloud.Iterate(func(i int, p Point) bool {
		count++
		return count < 3
	})
	test.That(t, count, test.ShouldEqual, 3)
}

func TestCloudReset(t *testing.T) {
	cloud := New()
	cloud.AppendColored(r3.Vector{X: 1}, color.NRGBA{255, 0, 0, 255})
	test.That(t, cloud.Size(), test.ShouldEqual, 1)
	test.That(t, cloud.MetaData().HasColor, test.ShouldBeTrue)

	cloud.Reset()
	test.That(t, cloud.Size(), test.ShouldEqual, 0)
	test.That(t, cloud.MetaData().HasColor, test.ShouldBeFalse)

	cloud.AppendVector(r3.Vector{X: 2})
	test.That(t, cloud.Size(), test.ShouldEqual, 1)
	test.That(t, cloud.MetaData().MaxX, test.ShouldEqual, 2)
}
