package workload

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mrzor/currentop/internal/opmeta"
)

var (
	collections = []string{"users", "orders", "events", "sessions", "inventory"}
	appNames    = []string{"billing", "checkout", "reporting", "mongosh", ""}
)

// command is one generated operation.
type command struct {
	doc      []byte
	name     string
	activity string
}

// generator builds random commands for one worker. It is not safe for
// concurrent use.
type generator struct {
	rng          *rand.Rand
	sessionRatio float64
	session      uuid.UUID
	hasSession   bool
}

func newGenerator(seed uint64, worker int, sessionRatio float64) *generator {
	return &generator{
		rng:          rand.New(rand.NewPCG(seed, uint64(worker))),
		sessionRatio: sessionRatio,
	}
}

func (g *generator) next() (command, error) {
	coll := collections[g.rng.IntN(len(collections))]

	var doc bson.D
	var name string
	switch g.rng.IntN(5) {
	case 0:
		name = "find"
		doc = bson.D{
			{Key: "find", Value: coll},
			{Key: "filter", Value: bson.D{{Key: "_id", Value: bson.NewObjectID()}}},
			{Key: "limit", Value: int32(1 + g.rng.IntN(100))},
		}
	case 1:
		name = "insert"
		docs := make(bson.A, 1+g.rng.IntN(8))
		for i := range docs {
			docs[i] = bson.D{
				{Key: "_id", Value: bson.NewObjectID()},
				{Key: "payload", Value: strings.Repeat("x", g.rng.IntN(400))},
			}
		}
		doc = bson.D{{Key: "insert", Value: coll}, {Key: "documents", Value: docs}}
	case 2:
		name = "aggregate"
		doc = bson.D{
			{Key: "aggregate", Value: coll},
			{Key: "pipeline", Value: bson.A{
				bson.D{{Key: "$match", Value: bson.D{{Key: "status", Value: "open"}}}},
				bson.D{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$owner"}, {Key: "n", Value: bson.D{{Key: "$sum", Value: int32(1)}}}}}},
			}},
			{Key: "cursor", Value: bson.D{}},
		}
	case 3:
		name = "update"
		doc = bson.D{
			{Key: "update", Value: coll},
			{Key: "updates", Value: bson.A{bson.D{
				{Key: "q", Value: bson.D{{Key: "_id", Value: bson.NewObjectID()}}},
				{Key: "u", Value: bson.D{{Key: "$inc", Value: bson.D{{Key: "n", Value: int32(1)}}}}},
			}}},
		}
	default:
		name = "getMore"
		doc = bson.D{{Key: "getMore", Value: g.rng.Int64()}, {Key: "collection", Value: coll}}
	}

	doc = append(doc, bson.E{Key: "$db", Value: "app"})
	if session, ok := g.nextSession(); ok {
		doc = append(doc, bson.E{Key: "lsid", Value: opmeta.SessionBinary(session)})
	}

	raw, err := bson.Marshal(doc)
	if err != nil {
		return command{}, fmt.Errorf("failed to marshal %s command: %w", name, err)
	}
	return command{doc: raw, name: name, activity: fmt.Sprintf("%s %s", name, coll)}, nil
}

// nextSession keeps a worker on the same session for a few operations.
func (g *generator) nextSession() (uuid.UUID, bool) {
	if g.rng.Float64() >= g.sessionRatio {
		return uuid.UUID{}, false
	}
	if !g.hasSession || g.rng.IntN(4) == 0 {
		g.session = uuid.New()
		g.hasSession = true
	}
	return g.session, true
}

func (g *generator) client() string {
	return fmt.Sprintf("10.0.%d.%d:%d", g.rng.IntN(256), 1+g.rng.IntN(254), 30000+g.rng.IntN(30000))
}

func (g *generator) appName() string {
	return appNames[g.rng.IntN(len(appNames))]
}
