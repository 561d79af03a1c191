package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/transport"
)

// Query is a single statement bound to a Session, built by Session.Query or
// Session.Prepare. It is not safe for concurrent use: Bind/Exec/Iter all
// mutate the statement's bound values.
type Query struct {
	session   *Session
	stmt      transport.Statement
	exec      func(*transport.Conn, context.Context, transport.Statement, frame.Bytes) (transport.QueryResult, error)
	asyncExec func(*transport.Conn, context.Context, transport.Statement, frame.Bytes, transport.ResponseHandler)
	res       []transport.ResponseHandler

	pageState []byte
	err       []error
}

// Prepare sends PREPARE for this query's content and rebinds it to the
// resulting server-side handle, so later Exec/Iter calls use EXECUTE instead
// of QUERY.
func (q *Query) Prepare(ctx context.Context) error {
	p, err := q.session.prepareStatement(ctx, q.stmt)
	if err != nil {
		return err
	}

	q.stmt = p.stmt
	q.exec = p.exec
	q.asyncExec = p.asyncExec
	return nil
}

// Exec runs the query to completion, retrying per the session's RetryPolicy
// and racing a speculative attempt against a different node once the
// session's SpeculativeExecutionPolicy delay elapses (idempotent statements
// only). It does not page: a result with HasMorePages set still only
// returns the first page, use Iter to walk every page.
func (q *Query) Exec(ctx context.Context) (Result, error) {
	if q.err != nil {
		return Result{}, fmt.Errorf("query can't be executed: %v", q.err)
	}

	info, err := q.info()
	if err != nil {
		return Result{}, err
	}

	res, err := transport.RunSpeculative(ctx, q.session.cfg.SpeculativeExecution, q.stmt.Idempotent,
		func(ctx context.Context, attemptNo int) (transport.QueryResult, error) {
			return q.attempt(ctx, info, attemptNo)
		})
	if err != nil {
		return Result{}, err
	}

	return Result(res), q.session.handleAutoAwaitSchemaAgreement(ctx, q.stmt.Content, &res)
}

// attempt walks the policy's node ranking starting at offset, retrying on
// the same node per the session's RetryPolicy and falling through to the
// next ranked node on RetryNextNode.
func (q *Query) attempt(ctx context.Context, info transport.QueryInfo, offset int) (transport.QueryResult, error) {
	var rd transport.RetryDecider
	var lastErr error

	i := offset
	n := q.session.cfg.Policy.Node(info, i)
	for n != nil {
	sameNodeRetries:
		for {
			conn, err := n.Conn(info)
			if err != nil {
				lastErr = err
				break sameNodeRetries
			}

			start := time.Now()
			res, err := q.exec(conn, ctx, q.stmt, nil)
			if err == nil {
				if lo, ok := q.session.cfg.Policy.(transport.LatencyObserver); ok {
					lo.ObserveLatency(n, time.Since(start))
				}
			} else {
				ri := transport.RetryInfo{
					Error:       err,
					Idempotent:  q.stmt.Idempotent,
					Consistency: q.stmt.Consistency,
				}

				if rd == nil {
					rd = q.session.cfg.RetryPolicy.NewRetryDecider()
				}
				switch rd.Decide(ri) {
				case transport.RetrySameNode:
					continue sameNodeRetries
				case transport.RetryNextNode:
					lastErr = err
					break sameNodeRetries
				case transport.DontRetry:
					return transport.QueryResult{}, err
				}
			}

			return res, nil
		}

		i++
		n = q.session.cfg.Policy.Node(info, i)
	}

	if lastErr == nil {
		return transport.QueryResult{}, fmt.Errorf("no connection to execute the query on")
	}
	return transport.QueryResult{}, lastErr
}

func (q *Query) pickConn(qi transport.QueryInfo) (*transport.Conn, error) {
	n := q.session.cfg.Policy.Node(qi, 0)
	if n == nil {
		return nil, errNoConnection
	}
	return n.Conn(qi)
}

// AsyncExec sends the query without waiting for the response; pair every
// call with a later Fetch to collect results in submission order.
func (q *Query) AsyncExec(ctx context.Context) {
	stmt := q.stmt.Clone()
	info, err := q.info()
	if err != nil {
		q.res = append(q.res, transport.MakeResponseHandlerWithError(err))
		return
	}

	conn, err := q.pickConn(info)
	if err != nil {
		q.res = append(q.res, transport.MakeResponseHandlerWithError(err))
		return
	}

	h := transport.MakeResponseHandler()
	q.res = append(q.res, h)
	q.asyncExec(conn, ctx, stmt, q.pageState, h)
}

var ErrNoQueryResults = fmt.Errorf("no query results to be fetched")

// Fetch returns results in the same order they were queried.
func (q *Query) Fetch() (Result, error) {
	if len(q.res) == 0 {
		return Result{}, ErrNoQueryResults
	}

	h := q.res[0]
	q.res = q.res[1:]

	resp := <-h
	if resp.Err != nil {
		return Result{}, resp.Err
	}

	res, err := transport.MakeQueryResult(resp.Response, q.stmt.Metadata)
	return Result(res), err
}

// info derives the QueryInfo that steers node selection: token-aware when
// every partition-key component is bound, otherwise a plain info that
// leaves ranking to the configured HostSelectionPolicy's fallback behavior.
func (q *Query) info() (transport.QueryInfo, error) {
	token, err := transport.CalculateToken(q.stmt)
	if err != nil {
		return transport.QueryInfo{}, err
	}
	if token == nil {
		return transport.NewQueryInfo(), nil
	}
	return transport.NewTokenAwareQueryInfo(*token, q.keyspace()), nil
}

// keyspace is the keyspace TokenAwarePolicy should look up replicas under:
// the prepared statement's own table spec when it has one, otherwise the
// session's connection-level default (the keyspace handed to USE on
// connect).
func (q *Query) keyspace() string {
	if ts, ok := q.stmt.TableSpec(); ok && ts.Keyspace != "" {
		return ts.Keyspace
	}
	return q.session.cfg.Keyspace
}

func (q *Query) checkBounds(pos int) error {
	if q.stmt.Metadata != nil {
		if pos < 0 || pos >= len(q.stmt.Values) {
			return fmt.Errorf("no bind marker with position %d", pos)
		}

		return nil
	}

	for i := len(q.stmt.Values); i <= pos; i++ {
		q.stmt.Values = append(q.stmt.Values, frame.Value{})
	}
	return nil
}

type Serializable interface {
	Serialize(*frame.Option) (n int32, bytes []byte, err error)
}

// Bind serializes v onto the bind marker at pos. It requires a prepared
// query: unprepared statements carry no column type information to
// serialize against.
func (q *Query) Bind(pos int, v Serializable) *Query {
	if q.stmt.Metadata == nil {
		q.err = append(q.err, fmt.Errorf("binding any to unprepared queries is not supported"))
		return q
	}
	if err := q.checkBounds(pos); err != nil {
		q.err = append(q.err, err)
		return q
	}
	p := &q.stmt.Values[pos]

	var err error
	p.N, p.Bytes, err = v.Serialize(p.Type)
	if err != nil {
		q.err = append(q.err, err)
	}

	return q
}

func (q *Query) BindInt64(pos int, v int64) *Query {
	p := &q.stmt.Values[pos]
	if p.N == 0 {
		p.N = 8
		p.Bytes = make([]byte, 8)
	}

	p.Bytes[0] = byte(v >> 56)
	p.Bytes[1] = byte(v >> 48)
	p.Bytes[2] = byte(v >> 40)
	p.Bytes[3] = byte(v >> 32)
	p.Bytes[4] = byte(v >> 24)
	p.Bytes[5] = byte(v >> 16)
	p.Bytes[6] = byte(v >> 8)
	p.Bytes[7] = byte(v)

	return q
}

func (q *Query) SetSerialConsistency(v frame.Consistency) {
	q.stmt.SerialConsistency = v
}

func (q *Query) SerialConsistency() frame.Consistency {
	return q.stmt.SerialConsistency
}

func (q *Query) SetPageState(v []byte) {
	q.pageState = v
}

func (q *Query) PageState() []byte {
	return q.pageState
}

func (q *Query) SetPageSize(v int32) {
	q.stmt.PageSize = v
}

func (q *Query) PageSize() int32 {
	return q.stmt.PageSize
}

func (q *Query) SetCompression(v bool) {
	q.stmt.Compression = v
}

func (q *Query) Compression() bool {
	return q.stmt.Compression
}

func (q *Query) SetIdempotent(v bool) {
	q.stmt.Idempotent = v
}

func (q *Query) Idempotent() bool {
	return q.stmt.Idempotent
}

func (q *Query) NoSkipMetadata() *Query {
	q.stmt.NoSkipMetadata = true
	return q
}

// Result is a single page of a QueryResult, returned by Exec/Fetch.
type Result transport.QueryResult
