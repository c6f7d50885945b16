package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	goredis "github.com/redis/go-redis/v9"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRedisCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Redis Cache Suite")
}

var _ = Describe("Cache", func() {
	var (
		ctx       context.Context
		miniRedis *miniredis.Miniredis
		client    *Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		miniRedis, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		client = NewClient(&goredis.Options{Addr: miniRedis.Addr()}, logr.Discard())
		Expect(client.EnsureConnection(ctx)).To(Succeed())
	})

	AfterEach(func() {
		_ = client.Close()
		miniRedis.Close()
	})

	It("stores and retrieves string values", func() {
		cache := NewCache[string](client, "evidence-hash", 5*time.Minute)
		v := "e1"
		Expect(cache.Set(ctx, "3a...f7", &v)).To(Succeed())

		got, err := cache.Get(ctx, "3a...f7")
		Expect(err).NotTo(HaveOccurred())
		Expect(*got).To(Equal("e1"))
	})

	It("returns ErrCacheMiss for an absent key", func() {
		cache := NewCache[string](client, "evidence-hash", 5*time.Minute)
		_, err := cache.Get(ctx, "missing")
		Expect(err).To(Equal(ErrCacheMiss))
	})

	It("expires entries after their TTL", func() {
		cache := NewCache[string](client, "ttl-test", 1*time.Second)
		v := "short-lived"
		Expect(cache.Set(ctx, "k", &v)).To(Succeed())

		miniRedis.FastForward(2 * time.Second)

		_, err := cache.Get(ctx, "k")
		Expect(err).To(Equal(ErrCacheMiss))
	})

	It("stores struct values round-trip", func() {
		type evidenceRef struct {
			EvidenceID string
			Tags       []string
		}
		cache := NewCache[evidenceRef](client, "structs", time.Minute)
		want := evidenceRef{EvidenceID: "e1", Tags: []string{"financial", "pdf"}}
		Expect(cache.Set(ctx, "k", &want)).To(Succeed())

		got, err := cache.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(*got).To(Equal(want))
	})

	It("increments a counter and resets its TTL", func() {
		cache := NewCache[int64](client, "depths", time.Minute)
		n1, err := cache.Incr(ctx, "2-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(n1).To(Equal(int64(1)))

		miniRedis.FastForward(30 * time.Second)

		n2, err := cache.Incr(ctx, "2-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(n2).To(Equal(int64(2)))
		Expect(miniRedis.TTL("depths:2-1")).To(Equal(time.Minute))
	})

	It("deletes a key without erroring when absent", func() {
		cache := NewCache[string](client, "evidence-hash", time.Minute)
		Expect(cache.Delete(ctx, "never-set")).To(Succeed())
	})
})
