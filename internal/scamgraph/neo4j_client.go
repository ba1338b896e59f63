package scamgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Options configure the Neo4j-backed graph.
type Options struct {
	URI      string
	Username string
	Password string
	Database string
}

type neo4jClient struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jClient connects to Neo4j over Bolt and verifies connectivity.
func NewNeo4jClient(ctx context.Context, opts Options) (Client, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("scamgraph: missing neo4j URI")
	}

	auth := neo4j.NoAuth()
	if opts.Username != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify graph connectivity: %w", err)
	}

	return &neo4jClient{driver: driver, database: opts.Database}, nil
}

// RecordRejection upserts the party nodes and reinforces the SENT_TO edge.
func (c *neo4jClient) RecordRejection(ctx context.Context, sender, recipient string, amount float64) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MERGE (s:Party {id: $sender})
		MERGE (r:Party {id: $recipient})
		MERGE (s)-[e:SENT_TO]->(r)
		ON CREATE SET e.count = 1, e.totalAmount = $amount, e.lastSeen = $now
		ON MATCH SET e.count = e.count + 1,
			e.totalAmount = e.totalAmount + $amount,
			e.lastSeen = $now
	`, map[string]any{
		"sender":    sender,
		"recipient": recipient,
		"amount":    amount,
		"now":       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record rejection edge: %w", err)
	}
	return nil
}

// Neighborhood returns the edges touching the party, newest first.
func (c *neo4jClient) Neighborhood(ctx context.Context, party string, limit int) ([]Edge, error) {
	if limit <= 0 {
		limit = 50
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, `
		MATCH (s:Party)-[e:SENT_TO]->(r:Party)
		WHERE s.id = $party OR r.id = $party
		RETURN s.id AS sender, r.id AS recipient,
			e.count AS count, e.totalAmount AS totalAmount, e.lastSeen AS lastSeen
		ORDER BY e.lastSeen DESC
		LIMIT $limit
	`, map[string]any{"party": party, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("query neighborhood: %w", err)
	}

	var edges []Edge
	for res.Next(ctx) {
		rec := res.Record()
		edge := Edge{}
		if v, ok := rec.Get("sender"); ok {
			edge.Sender, _ = v.(string)
		}
		if v, ok := rec.Get("recipient"); ok {
			edge.Recipient, _ = v.(string)
		}
		if v, ok := rec.Get("count"); ok {
			edge.Count, _ = v.(int64)
		}
		if v, ok := rec.Get("totalAmount"); ok {
			edge.TotalAmount, _ = v.(float64)
		}
		if v, ok := rec.Get("lastSeen"); ok {
			if t, isTime := v.(time.Time); isTime {
				edge.LastSeen = t
			}
		}
		edges = append(edges, edge)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("read neighborhood: %w", err)
	}
	return edges, nil
}

// Close releases the driver.
func (c *neo4jClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}
