package ros

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/stwirth/pointcloud-to-laserscan/pointcloud"
)

// float32FieldType is the PointField datatype code for FLOAT32.
const float32FieldType = 7

// PointCloudMessage is one sensor_msgs/PointCloud2 as gobag renders it.
type PointCloudMessage struct {
	Meta struct {
		Secs  int
		Nsecs int
	}
	Data struct {
		Header struct {
			Seq   int
			Stamp struct {
				Secs  int
				Nsecs int
			}
			FrameId string `json:"frame_id"`
		}
		Height int
		Width  int
		Fields []struct {
			Name     string
			Offset   int
			Datatype int
			Count    int
		}
		IsBigendian bool `json:"is_bigendian"`
		PointStep   int  `json:"point_step"`
		RowStep     int  `json:"row_step"`
		Data        []byte
		IsDense     bool `json:"is_dense"`
	}
}

// PointCloud decodes the packed point data into a cloud. Only the x, y, and z
// fields are read; invalid returns (NaN coordinates) are kept, matching what
// the sensor publishes for pixels with no depth.
func (m *PointCloudMessage) PointCloud() (*pointcloud.PointCloud, error) {
	var xOff, yOff, zOff = -1, -1, -1
	for _, f := range m.Data.Fields {
		switch f.Name {
		case "x", "y", "z":
			if f.Datatype != float32FieldType {
				return nil, errors.Errorf("field %s has datatype %d, expected float32", f.Name, f.Datatype)
			}
		}
		switch f.Name {
		case "x":
			xOff = f.Offset
		case "y":
			yOff = f.Offset
		case "z":
			zOff = f.Offset
		}
	}
	if xOff < 0 || yOff < 0 || zOff < 0 {
		return nil, errors.New("cloud is missing an x, y, or z field")
	}

	var order binary.ByteOrder = binary.LittleEndian
	if m.Data.IsBigendian {
		order = binary.BigEndian
	}

	needed := xOff
	if yOff > needed {
		needed = yOff
	}
	if zOff > needed {
		needed = zOff
	}
	needed += 4

	stamp := time.Unix(int64(m.Data.Header.Stamp.Secs), int64(m.Data.Header.Stamp.Nsecs))
	cloud := pointcloud.NewWithPrealloc(m.Data.Header.FrameId, stamp, m.Data.Width*m.Data.Height)

	data := m.Data.Data
	for row := 0; row < m.Data.Height; row++ {
		for col := 0; col < m.Data.Width; col++ {
			base := row*m.Data.RowStep + col*m.Data.PointStep
			if base+needed > len(data) {
				return nil, errors.Errorf("cloud data truncated at point (%d, %d)", row, col)
			}
			cloud.Add(pointcloud.NewVector(
				readFloat32(data, base+xOff, order),
				readFloat32(data, base+yOff, order),
				readFloat32(data, base+zOff, order),
			))
		}
	}
	return cloud, nil
}

func readFloat32(data []byte, off int, order binary.ByteOrder) float64 {
	return float64(math.Float32frombits(order.Uint32(data[off : off+4])))
}
