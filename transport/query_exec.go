package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/scylladb/scylla-go-driver/frame"
	. "github.com/scylladb/scylla-go-driver/frame/request"
	. "github.com/scylladb/scylla-go-driver/frame/response"
)

func paramsFromStatement(s Statement, pagingState frame.Bytes) QueryParams {
	return QueryParams{
		Consistency:       s.Consistency,
		Values:            s.Values,
		SkipMetadata:      !s.NoSkipMetadata && s.Metadata != nil,
		PageSize:          s.PageSize,
		PagingState:       pagingState,
		SerialConsistency: s.SerialConsistency,
	}
}

// Query runs an unprepared statement and waits for its result.
func (c *Conn) Query(ctx context.Context, s Statement, pagingState frame.Bytes) (QueryResult, error) {
	req := &Query{Content: s.Content, Params: paramsFromStatement(s, pagingState)}
	res, err := c.sendRequestCtx(ctx, req, s.Compression, false)
	if err != nil {
		return QueryResult{}, err
	}
	return MakeQueryResult(res, s.ResultMetadata)
}

// Execute runs a previously prepared statement and waits for its result.
// This connection may never have seen s PREPAREd (it was prepared against a
// different connection in the node's pool, or the server since evicted it
// from its own cache); either way Execute transparently PREPAREs s.Content on
// c and retries once rather than surfacing UNPREPARED to the caller.
func (c *Conn) Execute(ctx context.Context, s Statement, pagingState frame.Bytes) (QueryResult, error) {
	if !c.isPrepared(s.ID) {
		reprepared, err := c.Prepare(ctx, s)
		if err != nil {
			return QueryResult{}, fmt.Errorf("prepare before execute: %w", err)
		}
		s.ID, s.ResultMetadataID = reprepared.ID, reprepared.ResultMetadataID
		s.Metadata, s.ResultMetadata = reprepared.Metadata, reprepared.ResultMetadata
	}

	req := &Execute{ID: s.ID, Params: paramsFromStatement(s, pagingState)}
	res, err := c.sendRequestCtx(ctx, req, s.Compression, false)
	if err != nil {
		return QueryResult{}, err
	}

	if _, unprepared := res.(*Unprepared); unprepared {
		c.forgetPrepared(s.ID)
		reprepared, err := c.Prepare(ctx, s)
		if err != nil {
			return QueryResult{}, fmt.Errorf("re-prepare after unprepared execute: %w", err)
		}
		s.ID, s.ResultMetadataID = reprepared.ID, reprepared.ResultMetadataID
		s.Metadata, s.ResultMetadata = reprepared.Metadata, reprepared.ResultMetadata

		req = &Execute{ID: s.ID, Params: paramsFromStatement(s, pagingState)}
		res, err = c.sendRequestCtx(ctx, req, s.Compression, false)
		if err != nil {
			return QueryResult{}, err
		}
	}

	return MakeQueryResult(res, s.ResultMetadata)
}

// Prepare sends a PREPARE request and returns the resulting Statement,
// ready to be bound and Executed.
func (c *Conn) Prepare(ctx context.Context, s Statement) (Statement, error) {
	res, err := c.sendRequestCtx(ctx, &Prepare{Content: s.Content}, false, false)
	if err != nil {
		return Statement{}, err
	}
	p, ok := res.(*PreparedResult)
	if !ok {
		return Statement{}, responseAsError(res)
	}

	out := NewStatement(s.Content, p.Metadata, p.ResultMetadata, p.ID, p.ResultMetadataID, c.partitionerName)
	out.Consistency = s.Consistency
	out.SerialConsistency = s.SerialConsistency
	out.PageSize = s.PageSize
	out.Idempotent = s.Idempotent
	c.rememberPrepared(out.ID, out.ResultMetadataID)
	return out, nil
}

// AsyncQuery is Query's fire-and-forget twin: the result (or error) is
// delivered on handler instead of being waited on inline.
func (c *Conn) AsyncQuery(ctx context.Context, s Statement, pagingState frame.Bytes, handler ResponseHandler) {
	req := &Query{Content: s.Content, Params: paramsFromStatement(s, pagingState)}
	c.sendRequestAsync(ctx, req, s.Compression, false, handler)
}

// AsyncExecute is Execute's fire-and-forget twin.
func (c *Conn) AsyncExecute(ctx context.Context, s Statement, pagingState frame.Bytes, handler ResponseHandler) {
	req := &Execute{ID: s.ID, Params: paramsFromStatement(s, pagingState)}
	c.sendRequestAsync(ctx, req, s.Compression, false, handler)
}

// sendRequestCtx is sendRequest with context cancellation/deadline support.
func (c *Conn) sendRequestCtx(ctx context.Context, req frame.Request, compress, tracing bool) (frame.Response, error) {
	start := time.Now()
	h := make(ResponseHandler, 1)
	streamID, err := c.r.setHandler(h)
	if err != nil {
		return nil, fmt.Errorf("set handler: %w", err)
	}

	r := request{
		Request:         req,
		StreamID:        streamID,
		Compress:        compress,
		Tracing:         tracing,
		ResponseHandler: h,
	}
	c.w.submit(r)

	select {
	case resp := <-h:
		c.r.freeHandler(streamID)
		Metrics.observeRequest(start, resp.Err)
		return resp.Response, resp.Err
	case <-ctx.Done():
		c.r.freeHandler(streamID)
		Metrics.observeRequest(start, ctx.Err())
		return nil, &TimeoutError{Op: "request"}
	}
}

// sendRequestAsync submits req and forwards whatever arrives on its stream
// directly to handler, without blocking the caller.
func (c *Conn) sendRequestAsync(ctx context.Context, req frame.Request, compress, tracing bool, handler ResponseHandler) {
	h := make(ResponseHandler, 1)
	streamID, err := c.r.setHandler(h)
	if err != nil {
		handler <- Response{Err: fmt.Errorf("set handler: %w", err)}
		return
	}

	r := request{
		Request:         req,
		StreamID:        streamID,
		Compress:        compress,
		Tracing:         tracing,
		ResponseHandler: h,
	}
	c.w.submit(r)

	go func() {
		select {
		case resp := <-h:
			c.r.freeHandler(streamID)
			handler <- Response(resp)
		case <-ctx.Done():
			c.r.freeHandler(streamID)
			handler <- Response{Err: &TimeoutError{Op: "request"}}
		}
	}()
}
