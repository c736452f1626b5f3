package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// PCDType is the serialization format of a PCD file's data section.
type PCDType int

const (
	// PCDAscii is whitespace-separated decimal data.
	PCDAscii PCDType = 0
	// PCDBinary is little-endian packed binary data.
	PCDBinary PCDType = 1
)

func colorToPCDInt(p Point) int {
	if !p.HasColor {
		return 255 << 16
	}
	x := 0
	x |= int(p.Color.R) << 16
	x |= int(p.Color.G) << 8
	x |= int(p.Color.B) << 0
	return x
}

// ToPCD writes the cloud to out in PCD v.7 format. Clouds whose metadata says
// they carry color get an rgb field; point order is preserved.
func ToPCD(cloud *Cloud, out io.Writer, outputType PCDType) error {
	var err error

	_, err = fmt.Fprintf(out, "VERSION .7\n")
	if err != nil {
		return err
	}
	hasColor := cloud.MetaData().HasColor
	if hasColor {
		_, err = fmt.Fprintf(out, "FIELDS x y z rgb\n"+
			"SIZE 4 4 4 4\n"+
			"TYPE F F F I\n"+
			"COUNT 1 1 1 1\n")
	} else {
		_, err = fmt.Fprintf(out, "FIELDS x y z\n"+
			"SIZE 4 4 4\n"+
			"TYPE F F F\n"+
			"COUNT 1 1 1\n")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(), 1, cloud.Size())
	if err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	default:
		return errors.Errorf("unknown pcd type %d", outputType)
	}
	if err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType, hasColor)
}

func writePCDData(cloud *Cloud, out io.Writer, pcdtype PCDType, hasColor bool) error {
	var lastErr error
	cloud.Iterate(func(_ int, p Point) bool {
		var err error
		pos := p.Position
		switch {
		case hasColor && pcdtype == PCDBinary:
			buf := make([]byte, 16)
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			binary.LittleEndian.PutUint32(buf[12:], uint32(colorToPCDInt(p)))
			_, err = out.Write(buf)
		case hasColor && pcdtype == PCDAscii:
			_, err = fmt.Fprintf(out, "%f %f %f %d\n", pos.X, pos.Y, pos.Z, colorToPCDInt(p))
		case pcdtype == PCDBinary:
			buf := make([]byte, 12)
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			_, err = out.Write(buf)
		default:
			_, err = fmt.Fprintf(out, "%f %f %f\n", pos.X, pos.Y, pos.Z)
		}
		lastErr = err
		return err == nil
	})
	return lastErr
}

// WriteToFile writes the cloud as a binary PCD file.
func WriteToFile(cloud *Cloud, fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, PCDBinary); err != nil {
		return err
	}
	return w.Flush()
}
