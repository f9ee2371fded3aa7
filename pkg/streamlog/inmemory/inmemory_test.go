package inmemory_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/omnichat/relay/pkg/streamlog"
	"github.com/omnichat/relay/pkg/streamlog/inmemory"
)

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *inmemory.Driver
	)

	const conv = "conv-1"

	appendChunk := func(conversationID string, seq int) string {
		id, err := driver.Append(ctx, conversationID, &streamlog.Entry{
			Type:      streamlog.TypeChunk,
			Content:   fmt.Sprintf("chunk-%d", seq),
			Sequence:  seq,
			Timestamp: time.Now().UTC(),
		})
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
	})

	Describe("Append", func() {
		It("assigns strictly increasing ids per conversation", func() {
			first := appendChunk(conv, 1)
			second := appendChunk(conv, 2)
			Expect(streamlog.CompareIDs(first, second)).To(BeNumerically("<", 0))
		})

		It("numbers conversations independently", func() {
			a := appendChunk("conv-a", 1)
			b := appendChunk("conv-b", 1)
			Expect(a).To(Equal(b))
		})

		It("rejects a nil entry", func() {
			_, err := driver.Append(ctx, conv, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ReadRange", func() {
		It("returns everything for an empty cursor", func() {
			appendChunk(conv, 1)
			appendChunk(conv, 2)

			entries, err := driver.ReadRange(ctx, conv, "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Entry.Content).To(Equal("chunk-1"))
			Expect(entries[1].Entry.Content).To(Equal("chunk-2"))
		})

		It("excludes the cursor entry itself", func() {
			first := appendChunk(conv, 1)
			appendChunk(conv, 2)

			entries, err := driver.ReadRange(ctx, conv, first, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Entry.Content).To(Equal("chunk-2"))
		})

		It("honours the limit", func() {
			for i := 1; i <= 5; i++ {
				appendChunk(conv, i)
			}

			entries, err := driver.ReadRange(ctx, conv, "", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
		})

		It("returns nothing for an unknown conversation", func() {
			entries, err := driver.ReadRange(ctx, "nope", "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	Describe("ReadGroup", func() {
		It("anchors a new consumer at the current tail", func() {
			appendChunk(conv, 1)

			entries, err := driver.ReadGroup(ctx, conv, "viewers", "c1", 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())

			id := appendChunk(conv, 2)
			entries, err = driver.ReadGroup(ctx, conv, "viewers", "c1", 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ID).To(Equal(id))
		})

		It("does not redeliver entries to the same consumer", func() {
			driver.ReadGroup(ctx, conv, "viewers", "c1", 0, 10)
			appendChunk(conv, 1)

			first, err := driver.ReadGroup(ctx, conv, "viewers", "c1", 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(HaveLen(1))

			again, err := driver.ReadGroup(ctx, conv, "viewers", "c1", 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(BeEmpty())
		})

		It("delivers the same entries to each consumer in the group", func() {
			driver.ReadGroup(ctx, conv, "viewers", "c1", 0, 10)
			driver.ReadGroup(ctx, conv, "viewers", "c2", 0, 10)
			id := appendChunk(conv, 1)

			forC1, err := driver.ReadGroup(ctx, conv, "viewers", "c1", 0, 10)
			Expect(err).NotTo(HaveOccurred())
			forC2, err := driver.ReadGroup(ctx, conv, "viewers", "c2", 0, 10)
			Expect(err).NotTo(HaveOccurred())

			Expect(forC1).To(HaveLen(1))
			Expect(forC2).To(HaveLen(1))
			Expect(forC1[0].ID).To(Equal(id))
			Expect(forC2[0].ID).To(Equal(id))
		})

		It("wakes a blocked reader when an entry arrives", func() {
			driver.ReadGroup(ctx, conv, "viewers", "c1", 0, 10)

			results := make(chan []streamlog.LoggedEntry, 1)
			go func() {
				entries, _ := driver.ReadGroup(ctx, conv, "viewers", "c1", 2*time.Second, 10)
				results <- entries
			}()

			// Give the reader time to block before appending.
			time.Sleep(20 * time.Millisecond)
			id := appendChunk(conv, 1)

			var entries []streamlog.LoggedEntry
			Eventually(results).Should(Receive(&entries))
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ID).To(Equal(id))
		})

		It("returns empty after the block timeout", func() {
			start := time.Now()
			entries, err := driver.ReadGroup(ctx, conv, "viewers", "c1", 30*time.Millisecond, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
			Expect(time.Since(start)).To(BeNumerically(">=", 30*time.Millisecond))
		})

		It("returns promptly when the context is cancelled", func() {
			cancelCtx, cancel := context.WithCancel(ctx)
			results := make(chan []streamlog.LoggedEntry, 1)
			go func() {
				entries, _ := driver.ReadGroup(cancelCtx, conv, "viewers", "c1", time.Minute, 10)
				results <- entries
			}()

			time.Sleep(20 * time.Millisecond)
			cancel()
			Eventually(results).Should(Receive(BeEmpty()))
		})
	})

	Describe("RemoveConsumer", func() {
		It("discards the consumer's cursor", func() {
			driver.ReadGroup(ctx, conv, "viewers", "c1", 0, 10)
			appendChunk(conv, 1)
			Expect(driver.RemoveConsumer(ctx, conv, "viewers", "c1")).To(Succeed())

			// The rejoined consumer anchors at the new tail.
			entries, err := driver.ReadGroup(ctx, conv, "viewers", "c1", 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})

		It("is a no-op for unknown conversations", func() {
			Expect(driver.RemoveConsumer(ctx, "nope", "viewers", "c1")).To(Succeed())
		})
	})

	Describe("Trim", func() {
		It("drops the oldest entries beyond MaxLen", func() {
			for i := 1; i <= 5; i++ {
				appendChunk(conv, i)
			}

			n, err := driver.Trim(ctx, conv, streamlog.TrimPolicy{MaxLen: 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			entries, err := driver.ReadRange(ctx, conv, "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].Entry.Content).To(Equal("chunk-3"))
		})

		It("drops entries older than MaxAge", func() {
			_, err := driver.Append(ctx, conv, &streamlog.Entry{
				Type:      streamlog.TypeChunk,
				Content:   "stale",
				Timestamp: time.Now().Add(-2 * time.Hour),
			})
			Expect(err).NotTo(HaveOccurred())
			appendChunk(conv, 2)

			n, err := driver.Trim(ctx, conv, streamlog.TrimPolicy{MaxAge: time.Hour})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			entries, err := driver.ReadRange(ctx, conv, "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Entry.Content).To(Equal("chunk-2"))
		})

		It("leaves a log within policy untouched", func() {
			appendChunk(conv, 1)

			n, err := driver.Trim(ctx, conv, streamlog.TrimPolicy{MaxLen: 10, MaxAge: time.Hour})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})

	Describe("Sweep", func() {
		It("trims every conversation and totals the discards", func() {
			for i := 1; i <= 4; i++ {
				appendChunk("conv-a", i)
			}
			for i := 1; i <= 3; i++ {
				appendChunk("conv-b", i)
			}

			n, err := driver.Sweep(ctx, streamlog.TrimPolicy{MaxLen: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(3)))
		})
	})
})
