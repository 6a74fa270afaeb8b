// Package reader is the diff engine's boundary with the temporal
// property-graph storage layer. It executes the Cypher queries that
// return raw path rows, branch metadata, hierarchy parents, and display
// labels, and shields the database behind a rate limiter and a circuit
// breaker.
package reader

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/time/rate"

	"github.com/plexgraph/plexgraph/engine/diff"
	"github.com/plexgraph/plexgraph/engine/enrich"
	"github.com/plexgraph/plexgraph/pkg/resilience"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Client reads temporal path rows from Neo4j.
type Client struct {
	driver     neo4j.DriverWithContext
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
	newSession func(ctx context.Context) runner // for testing
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit caps queries per second with the given burst.
func WithRateLimit(qps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(qps), burst) }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// New creates a Client over a Neo4j driver.
func New(driver neo4j.DriverWithContext, opts ...Option) *Client {
	c := &Client{
		driver:  driver,
		limiter: rate.NewLimiter(rate.Limit(50), 10),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compile-time checks against the enricher collaborator interfaces.
var (
	_ enrich.ParentFetcher = (*Client)(nil)
	_ enrich.LabelRenderer = (*Client)(nil)
)

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (c *Client) session(ctx context.Context) runner {
	if c.newSession != nil {
		return c.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: c.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// run executes one query through the limiter and breaker, feeding every
// record to collect.
func (c *Client) run(ctx context.Context, cypher string, params map[string]any, collect func(*neo4j.Record) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		sess := c.session(ctx)
		defer sess.Close(ctx)

		res, err := sess.Run(ctx, cypher, params)
		if err != nil {
			return err
		}
		for res.Next(ctx) {
			if err := collect(res.Record()); err != nil {
				return err
			}
		}
		return nil
	})
}

// diffWindowQuery walks every database edge whose validity interval
// intersects the window on the requested branches and flattens it into
// one row per (node, element, property, branch).
const diffWindowQuery = `
MATCH (root:Root)<-[part:IS_PART_OF]-(n:Node)
OPTIONAL MATCH (n)-[owns:HAS_ATTRIBUTE|IS_RELATED]->(el)-[prop]->(v)
WITH n, part, el, owns, prop, v
WHERE (part.branch IN $branches AND part.from < $to AND (part.to IS NULL OR part.to >= $from))
   OR (prop IS NOT NULL AND prop.branch IN $branches AND prop.from < $to AND (prop.to IS NULL OR prop.to >= $from))
RETURN
  coalesce(prop.branch, part.branch)            AS branch,
  n.uuid                                        AS node_uuid,
  n.kind                                        AS node_kind,
  el.name                                       AS element_name,
  CASE type(owns) WHEN 'IS_RELATED' THEN 'relationship' ELSE 'attribute' END AS element_kind,
  el.peer_id                                    AS peer_id,
  coalesce(type(prop), type(part))              AS property_type,
  v.previous                                    AS previous_value,
  v.value                                       AS new_value,
  coalesce(prop.changed_at, part.changed_at)    AS changed_at,
  coalesce(prop.from, part.from)                AS valid_from,
  coalesce(prop.to, part.to)                    AS valid_to
ORDER BY node_uuid, element_name, property_type, changed_at`

// DiffWindow returns every elementary change on branch relative to
// baseBranch within [from, to).
func (c *Client) DiffWindow(ctx context.Context, baseBranch, branch string, from, to time.Time) ([]diff.PathRow, error) {
	params := map[string]any{
		"branches": []string{branch},
		"from":     from,
		"to":       to,
	}
	var rows []diff.PathRow
	err := c.run(ctx, diffWindowQuery, params, func(rec *neo4j.Record) error {
		row, err := rowFromRecord(rec, branch)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reader: diff window %s..%s: %w", baseBranch, branch, err)
	}
	return rows, nil
}

// BranchCreatedAt returns the time a branch diverged from its base.
func (c *Client) BranchCreatedAt(ctx context.Context, branch string) (time.Time, error) {
	var created time.Time
	found := false
	err := c.run(ctx,
		`MATCH (b:Branch {name: $name}) RETURN b.branched_at AS branched_at`,
		map[string]any{"name": branch},
		func(rec *neo4j.Record) error {
			t, ok := timeValue(rec, "branched_at")
			if !ok {
				return fmt.Errorf("branch %s has no branched_at", branch)
			}
			created, found = t, true
			return nil
		})
	if err != nil {
		return time.Time{}, fmt.Errorf("reader: branch created at: %w", err)
	}
	if !found {
		return time.Time{}, fmt.Errorf("reader: branch %q not found", branch)
	}
	return created, nil
}

// Parents returns a node's ancestor chain, nearest parent first,
// following hierarchy edges visible on the branch.
func (c *Client) Parents(ctx context.Context, branch, nodeUUID string) ([]enrich.ParentRef, error) {
	query := `
MATCH path = (n:Node {uuid: $uuid})-[:HAS_PARENT*1..]->(p:Node)
WHERE all(r IN relationships(path) WHERE r.branch IN [$branch, 'main'] AND r.to IS NULL)
RETURN p.uuid AS uuid, p.kind AS kind
ORDER BY length(path)`
	var parents []enrich.ParentRef
	err := c.run(ctx, query, map[string]any{"uuid": nodeUUID, "branch": branch}, func(rec *neo4j.Record) error {
		parents = append(parents, enrich.ParentRef{
			UUID: stringValue(rec, "uuid"),
			Kind: stringValue(rec, "kind"),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reader: parents of %s: %w", nodeUUID, err)
	}
	return parents, nil
}

// RenderDisplayLabel resolves the human display label for a node on a
// branch. Side-effect free; safe to call repeatedly.
func (c *Client) RenderDisplayLabel(ctx context.Context, branch, nodeUUID string) (string, error) {
	query := `
MATCH (n:Node {uuid: $uuid})
OPTIONAL MATCH (n)-[:HAS_ATTRIBUTE]->(a:Attribute {name: 'display_label'})-[hv:HAS_VALUE]->(v)
WHERE hv.branch IN [$branch, 'main'] AND hv.to IS NULL
RETURN coalesce(v.value, n.uuid) AS label
ORDER BY CASE hv.branch WHEN $branch THEN 0 ELSE 1 END
LIMIT 1`
	label := ""
	err := c.run(ctx, query, map[string]any{"uuid": nodeUUID, "branch": branch}, func(rec *neo4j.Record) error {
		label = stringValue(rec, "label")
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reader: display label for %s: %w", nodeUUID, err)
	}
	return label, nil
}

// --- record decoding helpers ---

func rowFromRecord(rec *neo4j.Record, fallbackBranch string) (diff.PathRow, error) {
	row := diff.PathRow{
		Branch:        stringValue(rec, "branch"),
		NodeUUID:      stringValue(rec, "node_uuid"),
		NodeKind:      stringValue(rec, "node_kind"),
		ElementName:   stringValue(rec, "element_name"),
		ElementKind:   diff.ElementKind(stringValue(rec, "element_kind")),
		PeerID:        stringValue(rec, "peer_id"),
		PropertyType:  diff.PropertyType(stringValue(rec, "property_type")),
		PreviousValue: optStringValue(rec, "previous_value"),
		NewValue:      optStringValue(rec, "new_value"),
	}
	if row.Branch == "" {
		row.Branch = fallbackBranch
	}
	var ok bool
	if row.ChangedAt, ok = timeValue(rec, "changed_at"); !ok {
		return diff.PathRow{}, fmt.Errorf("record for node %s missing changed_at", row.NodeUUID)
	}
	row.ValidFrom, _ = timeValue(rec, "valid_from")
	if t, ok := timeValue(rec, "valid_to"); ok {
		row.ValidTo = &t
	}
	return row, nil
}

func stringValue(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func optStringValue(rec *neo4j.Record, key string) *string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return &s
		}
	}
	return nil
}

func timeValue(rec *neo4j.Record, key string) (time.Time, bool) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
