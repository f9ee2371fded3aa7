package inmemory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/omnichat/relay/pkg/cancel/inmemory"
)

var _ = Describe("Registry", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("reports an unknown task as not cancelled", func() {
		registry := inmemory.NewRegistry(0)

		cancelled, err := registry.IsCancelled(ctx, "task-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(cancelled).To(BeFalse())
	})

	It("reports a flagged task as cancelled", func() {
		registry := inmemory.NewRegistry(0)

		Expect(registry.SetCancelled(ctx, "task-1")).To(Succeed())

		cancelled, err := registry.IsCancelled(ctx, "task-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(cancelled).To(BeTrue())
	})

	It("scopes flags to the task id", func() {
		registry := inmemory.NewRegistry(0)

		Expect(registry.SetCancelled(ctx, "task-1")).To(Succeed())

		cancelled, err := registry.IsCancelled(ctx, "task-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(cancelled).To(BeFalse())
	})

	It("expires flags after the TTL", func() {
		registry := inmemory.NewRegistry(20 * time.Millisecond)

		Expect(registry.SetCancelled(ctx, "task-1")).To(Succeed())

		Eventually(func() bool {
			cancelled, err := registry.IsCancelled(ctx, "task-1")
			Expect(err).NotTo(HaveOccurred())
			return cancelled
		}).Should(BeFalse())
	})
})
