package qdrant

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/mnemo/pkg/vector"
)

type fakeClient struct {
	exists    bool
	created   *qdrant.CreateCollection
	upserts   []*qdrant.UpsertPoints
	queries   []*qdrant.QueryPoints
	points    []*qdrant.ScoredPoint
	healthErr error
	closed    bool
}

func (f *fakeClient) CollectionExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeClient) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	return nil
}

func (f *fakeClient) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, req)
	return f.points, nil
}

func (f *fakeClient) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, f.healthErr
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		client *fakeClient
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &fakeClient{}
	})

	It("implements vector.Driver", func() {
		var _ vector.Driver = (*Driver)(nil)
	})

	It("validates required configuration", func() {
		_, err := NewDriver(ctx, Config{Dimensions: 4})
		Expect(err).To(MatchError(ContainSubstring("host is required")))

		_, err = NewDriver(ctx, Config{Host: "localhost"})
		Expect(err).To(MatchError(ContainSubstring("dimensions")))
	})

	It("creates a cosine collection when missing", func() {
		_, err := newDriver(ctx, client, Config{Host: "localhost", Dimensions: 4})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.created).NotTo(BeNil())
		Expect(client.created.GetCollectionName()).To(Equal(DefaultCollectionName))
		params := client.created.GetVectorsConfig().GetParams()
		Expect(params.GetSize()).To(Equal(uint64(4)))
		Expect(params.GetDistance()).To(Equal(qdrant.Distance_Cosine))
	})

	It("reuses an existing collection", func() {
		client.exists = true
		_, err := newDriver(ctx, client, Config{Host: "localhost", Dimensions: 4, CollectionName: "agents"})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.created).To(BeNil())
	})

	Describe("with a driver", func() {
		var driver *Driver

		BeforeEach(func() {
			client.exists = true
			var err error
			driver, err = newDriver(ctx, client, Config{Host: "localhost", Dimensions: 2})
			Expect(err).NotTo(HaveOccurred())
		})

		It("upserts points with content and scoping in the payload", func() {
			at := time.UnixMilli(1767225600000)
			Expect(driver.Add(ctx, []vector.Document{{
				ID: "not-a-uuid", Content: "alpha", SessionKey: "s1", CreatedAt: at,
				Embedding: []float32{0.1, 0.2},
			}})).To(Succeed())

			Expect(client.upserts).To(HaveLen(1))
			point := client.upserts[0].GetPoints()[0]
			Expect(point.GetId().GetUuid()).To(Equal(pointID("not-a-uuid")))
			payload := point.GetPayload()
			Expect(payload[payloadDocID].GetStringValue()).To(Equal("not-a-uuid"))
			Expect(payload[payloadContent].GetStringValue()).To(Equal("alpha"))
			Expect(payload[payloadSessionKey].GetStringValue()).To(Equal("s1"))
			Expect(payload[payloadCreatedAt].GetIntegerValue()).To(Equal(int64(1767225600000)))
		})

		It("keeps uuid ids as they are", func() {
			id := "6f1c2f4e-8f0b-4a55-9a4e-3f2b1f7d9c11"
			Expect(pointID(id)).To(Equal(id))
			Expect(pointID("x")).To(Equal(pointID("x")))
		})

		It("sends no filter when none is given", func() {
			_, err := driver.Query(ctx, []float32{0.1, 0.2}, 0, vector.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(client.queries[0].GetFilter()).To(BeNil())
			Expect(client.queries[0].GetLimit()).To(Equal(uint64(10)))
		})

		It("translates session and time filters into must conditions", func() {
			_, err := driver.Query(ctx, []float32{0.1, 0.2}, 3, vector.Filter{
				SessionKey: "s1",
				Before:     time.UnixMilli(1000),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(client.queries[0].GetFilter().GetMust()).To(HaveLen(2))
		})

		It("maps scored points onto [0,1]", func() {
			client.points = []*qdrant.ScoredPoint{{
				Id:    qdrant.NewID(pointID("m1")),
				Score: 0.5,
				Payload: qdrant.NewValueMap(map[string]any{
					payloadDocID:      "m1",
					payloadContent:    "alpha",
					payloadSessionKey: "s1",
					payloadCreatedAt:  int64(1767225600000),
					"role":            "user",
				}),
			}}

			results, err := driver.Query(ctx, []float32{0.1, 0.2}, 1, vector.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("m1"))
			Expect(results[0].Content).To(Equal("alpha"))
			Expect(results[0].SessionKey).To(Equal("s1"))
			Expect(results[0].CreatedAt.UnixMilli()).To(Equal(int64(1767225600000)))
			Expect(results[0].Metadata).To(HaveKeyWithValue("role", "user"))
			Expect(results[0].Score).To(BeNumerically("~", 0.75, 0.0001))
		})

		It("wraps health failures as connection errors", func() {
			client.healthErr = errors.New("unavailable")
			Expect(driver.Ping(ctx)).To(MatchError(vector.ErrConnection))
		})

		It("closes the client", func() {
			Expect(driver.Close()).To(Succeed())
			Expect(client.closed).To(BeTrue())
		})
	})
})
