package rosbag

import (
	"bytes"
	"io"
	"testing"

	"github.com/spf13/afero"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func BenchmarkE2E(b *testing.B) {
	fs := afero.NewMemMapFs()
	f := writeSampleBag(b, fs, WithCompression(CompressionLZ4), WithChunkSize(64))
	must(f.Close())

	raw, err := afero.ReadFile(fs, "sample.bag")
	must(err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start(raw)
	}
}

func start(raw []byte) {
	decoder := NewDecoder(bytes.NewReader(raw))

	for {
		record, err := decoder.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			must(err)
		}

		if msg, ok := record.(*RecordMessageData); ok {
			v := make(map[string]interface{})
			must(msg.UnmarshallTo(v))
		}
	}
}
