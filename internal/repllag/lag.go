// Package repllag reports how far a secondary trails the primary it
// syncs from.
package repllag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/replctl/internal/initiator"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNoBookmark = errors.New("repllag: secondary reports no optime")
	ErrNoPrimary  = errors.New("repllag: secondary names no sync source")
	ErrEmptyOplog = errors.New("repllag: primary oplog is empty")
)

// Bookmark is a secondary's own applied position and the host it
// replicates from.
type Bookmark struct {
	Host    string
	Applied primitive.Timestamp
	Source  string
}

// Reader is the two-query boundary against running members.
type Reader interface {
	Bookmark(ctx context.Context, addr string) (Bookmark, error)
	LatestOp(ctx context.Context, addr string) (primitive.Timestamp, error)
}

type Report struct {
	Secondary   string
	Primary     string
	SecondaryTS primitive.Timestamp
	PrimaryTS   primitive.Timestamp
}

// Behind is the primary's newest op time minus the secondary's applied
// time, in whole seconds.
func (r Report) Behind() time.Duration {
	return time.Duration(int64(r.PrimaryTS.T)-int64(r.SecondaryTS.T)) * time.Second
}

func (r Report) String() string {
	return fmt.Sprintf("secondary %s is behind %s by: %d seconds", r.Secondary, r.Primary, int64(r.Behind()/time.Second))
}

// Compute reads the bookmark on addr, then the newest op on the primary
// that bookmark names. No retries.
func Compute(ctx context.Context, reader Reader, addr string) (Report, error) {
	bm, err := reader.Bookmark(ctx, addr)
	if err != nil {
		return Report{}, fmt.Errorf("read bookmark %s: %w", addr, err)
	}
	if bm.Source == "" {
		return Report{}, fmt.Errorf("%w: %s", ErrNoPrimary, addr)
	}
	latest, err := reader.LatestOp(ctx, bm.Source)
	if err != nil {
		return Report{}, fmt.Errorf("read oplog %s: %w", bm.Source, err)
	}
	log.Debug().Msgf("repllag.Compute secondary=%s applied=%v primary=%s latest=%v", addr, bm.Applied, bm.Source, latest)
	return Report{Secondary: addr, Primary: bm.Source, SecondaryTS: bm.Applied, PrimaryTS: latest}, nil
}

type memberOptime struct {
	Name     string `bson:"name"`
	StateStr string `bson:"stateStr"`
	Self     bool   `bson:"self"`
	Optime   struct {
		TS primitive.Timestamp `bson:"ts"`
	} `bson:"optime"`
}

type statusDoc struct {
	SyncSourceHost string         `bson:"syncSourceHost"`
	Members        []memberOptime `bson:"members"`
}

// bookmarkFrom picks the self entry and its source, falling back to
// the current primary when no explicit sync source is reported.
func bookmarkFrom(addr string, doc statusDoc) (Bookmark, error) {
	bm := Bookmark{Host: addr, Source: doc.SyncSourceHost}
	found := false
	for _, m := range doc.Members {
		if m.Self {
			bm.Applied = m.Optime.TS
			found = true
		}
		if bm.Source == "" && m.StateStr == "PRIMARY" && !m.Self {
			bm.Source = m.Name
		}
	}
	if !found {
		return Bookmark{}, fmt.Errorf("%w: %s", ErrNoBookmark, addr)
	}
	return bm, nil
}

// MongoReader implements Reader with direct driver connections.
type MongoReader struct {
	Client initiator.MongoClient
}

func (r MongoReader) Bookmark(ctx context.Context, addr string) (Bookmark, error) {
	client, err := r.Client.Connect(ctx, []string{addr}, "")
	if err != nil {
		return Bookmark{}, err
	}
	defer client.Disconnect(context.Background())

	var doc statusDoc
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).Decode(&doc); err != nil {
		return Bookmark{}, err
	}
	return bookmarkFrom(addr, doc)
}

func (r MongoReader) LatestOp(ctx context.Context, addr string) (primitive.Timestamp, error) {
	client, err := r.Client.Connect(ctx, []string{addr}, "")
	if err != nil {
		return primitive.Timestamp{}, err
	}
	defer client.Disconnect(context.Background())

	var entry struct {
		TS primitive.Timestamp `bson:"ts"`
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "$natural", Value: -1}})
	err = client.Database("local").Collection("oplog.rs").FindOne(ctx, bson.D{}, opts).Decode(&entry)
	if err != nil {
		return primitive.Timestamp{}, err
	}
	if entry.TS.IsZero() {
		return primitive.Timestamp{}, fmt.Errorf("%w: %s", ErrEmptyOplog, addr)
	}
	return entry.TS, nil
}
