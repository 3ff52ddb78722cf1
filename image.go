package scenebag

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/lherman-cs/scenebag/rosbag"
)

const compressedImageDefinition = `time timestamp
string frame_id
uint8[] data
string format
`

// CompressedImage carries an encoded image file untouched.
type CompressedImage struct {
	Timestamp int64
	FrameID   string
	Data      []byte
	Format    string
}

func (img *CompressedImage) SchemaName() string {
	return "foxglove_msgs/CompressedImage"
}

func (img *CompressedImage) Definition() string {
	return compressedImageDefinition
}

func (img *CompressedImage) MarshalROS(buf *rosbag.Buffer) error {
	if err := putStamp(buf, img.Timestamp); err != nil {
		return err
	}
	buf.PutString(img.FrameID)
	buf.PutBytes(img.Data)
	buf.PutString(img.Format)
	return nil
}

// ImageFormat infers the format of an image file from its extension.
func ImageFormat(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	switch ext {
	case "jpg", "jpeg":
		return "jpeg"
	default:
		return ext
	}
}

type fsImageReader struct {
	fs   afero.Fs
	root string
}

// NewFsImageReader reads image files relative to root on fs.
func NewFsImageReader(fs afero.Fs, root string) ImageReader {
	return &fsImageReader{fs: fs, root: root}
}

func (reader *fsImageReader) ReadFile(name string) ([]byte, error) {
	return afero.ReadFile(reader.fs, filepath.Join(reader.root, filepath.FromSlash(name)))
}
