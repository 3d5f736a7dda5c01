package supervisor

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stepReader struct {
	chunks [][]byte
	i      int
}

func (r *stepReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.i])
	r.i++
	return n, nil
}

func TestPipeReaderReturnsZeroWhenEmpty(t *testing.T) {
	pr := newPipeReader(&stepReader{})
	buf := make([]byte, 16)
	n, err := pr.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPipeReaderBuffersAcrossChunks(t *testing.T) {
	pr := newPipeReader(&stepReader{chunks: [][]byte{[]byte("hel"), []byte("lo")}})

	var got []byte
	buf := make([]byte, 16)
	for i := 0; i < 50 && len(got) < 5; i++ {
		n, _ := pr.Read(buf)
		got = append(got, buf[:n]...)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, "hello", string(got))
}
