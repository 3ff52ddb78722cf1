package rosbag

import (
	"encoding/binary"
)

// Bags are always little endian, regardless of the host.
var endian = binary.LittleEndian
