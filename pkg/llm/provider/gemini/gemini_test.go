package gemini

import (
	"errors"
	"io"
	"iter"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/genai"

	"github.com/omnichat/relay/pkg/llm/provider"
)

func textResponse(fragments ...string) *genai.GenerateContentResponse {
	parts := make([]*genai.Part, 0, len(fragments))
	for _, f := range fragments {
		parts = append(parts, &genai.Part{Text: f})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: "model", Parts: parts}},
		},
	}
}

// pullStream adapts a canned response sequence the way Stream adapts the
// client's.
func pullStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *stream {
	next, stop := iter.Pull2(seq)
	return &stream{next: next, stop: stop}
}

var _ = Describe("Streamer", func() {
	Describe("Supports", func() {
		It("accepts gemini model names only", func() {
			s := &Streamer{}
			Expect(s.Supports("gemini-2.0-flash")).To(BeTrue())
			Expect(s.Supports("gpt-4o")).To(BeFalse())
		})
	})

	Describe("the response stream", func() {
		It("yields chunk text in order and then EOF", func() {
			s := pullStream(func(yield func(*genai.GenerateContentResponse, error) bool) {
				yield(textResponse("Hello "), nil)
				yield(textResponse("world"), nil)
			})
			defer s.Close()

			Expect(s.Next()).To(Equal("Hello "))
			Expect(s.Next()).To(Equal("world"))
			_, err := s.Next()
			Expect(err).To(MatchError(io.EOF))
		})

		It("skips chunks that carry no text", func() {
			s := pullStream(func(yield func(*genai.GenerateContentResponse, error) bool) {
				yield(&genai.GenerateContentResponse{
					Candidates: []*genai.Candidate{{Content: nil}},
				}, nil)
				yield(textResponse("payload"), nil)
			})
			defer s.Close()

			Expect(s.Next()).To(Equal("payload"))
		})

		It("joins multi-part candidates into one fragment", func() {
			s := pullStream(func(yield func(*genai.GenerateContentResponse, error) bool) {
				yield(textResponse("a", "b"), nil)
			})
			defer s.Close()

			Expect(s.Next()).To(Equal("ab"))
		})

		It("wraps mid-stream errors with the provider name", func() {
			s := pullStream(func(yield func(*genai.GenerateContentResponse, error) bool) {
				yield(textResponse("ok"), nil)
				yield(nil, errors.New("quota exceeded"))
			})
			defer s.Close()

			Expect(s.Next()).To(Equal("ok"))
			_, err := s.Next()
			var provErr provider.Error
			Expect(errors.As(err, &provErr)).To(BeTrue())
			Expect(provErr.Provider).To(Equal("gemini"))
		})
	})
})
