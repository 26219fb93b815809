package initiator

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/replctl/internal/cluster"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	DefaultConnectTimeout         = 5 * time.Second
	DefaultServerSelectionTimeout = 5 * time.Second
)

// MongoClient implements Client with the official driver. Each call
// opens and closes its own connection.
type MongoClient struct {
	TLS                    bool
	TLSCAFile              string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
}

// URI renders a connection string for hosts. setName selects replica
// set discovery; an empty setName with one host connects directly.
func (c MongoClient) URI(hosts []string, setName string) string {
	q := url.Values{}
	if setName != "" {
		q.Set("replicaSet", setName)
	} else if len(hosts) == 1 {
		q.Set("directConnection", "true")
	}
	if c.TLS {
		q.Set("tls", "true")
		if c.TLSCAFile != "" {
			q.Set("tlsCAFile", c.TLSCAFile)
		} else {
			q.Set("tlsInsecure", "true")
		}
	}
	uri := "mongodb://" + strings.Join(hosts, ",") + "/"
	if enc := q.Encode(); enc != "" {
		uri += "?" + enc
	}
	return uri
}

// Connect opens a driver client for hosts; see URI for setName handling.
func (c MongoClient) Connect(ctx context.Context, hosts []string, setName string) (*mongo.Client, error) {
	connectTimeout := c.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	selectionTimeout := c.ServerSelectionTimeout
	if selectionTimeout <= 0 {
		selectionTimeout = DefaultServerSelectionTimeout
	}
	opts := options.Client().
		ApplyURI(c.URI(hosts, setName)).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(selectionTimeout).
		SetAppName("replctl")
	return mongo.Connect(ctx, opts)
}

func (c MongoClient) Initiate(ctx context.Context, addr string, cfg cluster.Config) (InitiateAck, error) {
	client, err := c.Connect(ctx, []string{addr}, "")
	if err != nil {
		return InitiateAck{}, err
	}
	defer disconnect(client)

	var ack InitiateAck
	cmd := bson.D{{Key: "replSetInitiate", Value: cfg}}
	err = client.Database("admin").
		RunCommand(ctx, cmd, options.RunCmd().SetReadPreference(readpref.PrimaryPreferred())).
		Decode(&ack)
	if err != nil {
		return InitiateAck{}, err
	}
	return ack, nil
}

func (c MongoClient) Status(ctx context.Context, setName string, addrs []string) (StatusReport, error) {
	client, err := c.Connect(ctx, addrs, setName)
	if err != nil {
		return StatusReport{}, err
	}
	defer disconnect(client)

	var report StatusReport
	err = client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).
		Decode(&report)
	if err != nil {
		return StatusReport{}, err
	}
	return report, nil
}

func disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		log.Debug().Msgf("initiator.MongoClient disconnect err=%v", err)
	}
}
