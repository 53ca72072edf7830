package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/pingpong/protocol"
)

const stream = `{"id":0,"ar":["abc",42]}` + "\n" +
	`{"ci":3,"re":{"x":"y\nz"}}` + "\n" +
	`{}` + "\n" +
	`{"ar":[[1,2],{"k":null}]}` + "\n"

func feedAll(buf *protocol.FrameBuffer, chunks ...[]byte) []string {
	var lines []string
	for _, chunk := range chunks {
		out, err := buf.Feed(chunk)
		Expect(err).To(Succeed())
		for _, line := range out {
			lines = append(lines, string(line))
		}
	}
	return lines
}

func split(data string, size int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, []byte(data[:n]))
		data = data[n:]
	}
	return chunks
}

var _ = Describe("FrameBuffer", func() {
	var expected []string

	BeforeEach(func() {
		expected = feedAll(protocol.NewFrameBuffer(0), []byte(stream))
	})

	It("emits one line per frame when everything arrives at once", func() {
		Expect(expected).To(Equal([]string{
			`{"id":0,"ar":["abc",42]}`,
			`{"ci":3,"re":{"x":"y\nz"}}`,
			`{}`,
			`{"ar":[[1,2],{"k":null}]}`,
		}))
	})

	It("emits the same lines when the stream arrives one byte at a time", func() {
		Expect(feedAll(protocol.NewFrameBuffer(0), split(stream, 1)...)).To(Equal(expected))
	})

	It("emits the same lines for every chunk size", func() {
		for size := 2; size <= len(stream); size++ {
			Expect(feedAll(protocol.NewFrameBuffer(0), split(stream, size)...)).To(Equal(expected))
		}
	})

	It("does not emit anything until the terminator arrives", func() {
		buf := protocol.NewFrameBuffer(0)

		lines, err := buf.Feed([]byte(`{"id":0,`))
		Expect(err).To(Succeed())
		Expect(lines).To(BeEmpty())
		Expect(buf.Buffered()).To(Equal(8))

		lines, err = buf.Feed([]byte(`"ar":[1]}` + "\n"))
		Expect(err).To(Succeed())
		Expect(lines).To(HaveLen(1))
		Expect(string(lines[0])).To(Equal(`{"id":0,"ar":[1]}`))
		Expect(buf.Buffered()).To(Equal(0))
	})

	It("keeps the remainder after the last terminator", func() {
		buf := protocol.NewFrameBuffer(0)

		lines, err := buf.Feed([]byte("{}\n{\"ar\""))
		Expect(err).To(Succeed())
		Expect(lines).To(HaveLen(1))
		Expect(buf.Buffered()).To(Equal(5))
	})

	It("skips empty lines and strips a trailing CR", func() {
		lines := feedAll(protocol.NewFrameBuffer(0), []byte("\n{}\r\n\r\n{\"ci\":1}\n"))
		Expect(lines).To(Equal([]string{`{}`, `{"ci":1}`}))
	})

	It("passes whitespace only lines on to be decoded", func() {
		lines := feedAll(protocol.NewFrameBuffer(0), []byte("{}\n  \n"))
		Expect(lines).To(Equal([]string{`{}`, `  `}))

		_, err := protocol.DecodeFrame([]byte(lines[1]))
		Expect(errors.Is(err, protocol.ErrMalformedFrame)).To(BeTrue())
	})

	It("does not alias the fed chunk", func() {
		buf := protocol.NewFrameBuffer(0)
		chunk := []byte("{}\n")

		lines, err := buf.Feed(chunk)
		Expect(err).To(Succeed())

		chunk[0] = 'X'
		Expect(string(lines[0])).To(Equal("{}"))
	})

	It("fails when an incomplete frame outgrows the limit", func() {
		buf := protocol.NewFrameBuffer(8)

		_, err := buf.Feed([]byte(`{"ar":["abcdef"`))
		Expect(errors.Is(err, protocol.ErrFrameTooLarge)).To(BeTrue())
		Expect(buf.Buffered()).To(Equal(0))
	})

	It("still returns complete lines alongside a size failure", func() {
		buf := protocol.NewFrameBuffer(4)

		lines, err := buf.Feed([]byte("{}\n{\"ar\":[1,2,3]"))
		Expect(errors.Is(err, protocol.ErrFrameTooLarge)).To(BeTrue())
		Expect(lines).To(HaveLen(1))
	})

	Describe("RemoveTrailingCR()", func() {
		It("does nothing if the data does not end in CR", func() {
			data := []byte("I am awesome data")
			Expect(protocol.RemoveTrailingCR(data)).To(Equal(data))
		})

		It("removes the trailling CR", func() {
			input := []byte("I am awesome data\r")
			output := []byte("I am awesome data")
			Expect(protocol.RemoveTrailingCR(input)).To(Equal(output))
		})

		It("copes with empty data", func() {
			Expect(protocol.RemoveTrailingCR([]byte{})).To(BeEmpty())
		})
	})
})
