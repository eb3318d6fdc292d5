package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/stackcheck/pkg/bytecode"
	"github.com/chazu/stackcheck/pkg/opcode"
	"github.com/chazu/stackcheck/pkg/verify"
	"github.com/chazu/stackcheck/report"
	"github.com/chazu/stackcheck/store"
)

// Procedure paths served by VerifyService.
const (
	VerifyServiceName  = "stackcheck.v1.VerifyService"
	VerifyProcedure    = "/" + VerifyServiceName + "/Verify"
	CatalogueProcedure = "/" + VerifyServiceName + "/Catalogue"
)

// Request limits.
const (
	maxUnitsPerRequest = 4096
	maxWordsPerUnit    = 1 << 20
)

// VerifyRequest asks for one or more units to be verified.
type VerifyRequest struct {
	Units []UnitRequest `cbor:"1,keyasint" json:"units"`
}

// UnitRequest is one unit of code with its per-unit options. Options left
// unset fall back to the server's defaults.
type UnitRequest struct {
	Name       string  `cbor:"1,keyasint" json:"name"`
	Code       []int32 `cbor:"2,keyasint" json:"code"`
	EntryDepth *int    `cbor:"3,keyasint,omitempty" json:"entryDepth,omitempty"`
	ExitDepth  *int    `cbor:"4,keyasint,omitempty" json:"exitDepth,omitempty"`
}

// VerifyResponse carries one report per requested unit, in request order.
type VerifyResponse struct {
	RequestID string          `cbor:"1,keyasint" json:"requestId"`
	Reports   []report.Report `cbor:"2,keyasint" json:"reports"`
	Cached    int             `cbor:"3,keyasint" json:"cached"`
}

// CatalogueRequest asks for the server's opcode catalogue.
type CatalogueRequest struct{}

// CatalogueResponse lists every opcode the server accepts.
type CatalogueResponse struct {
	Version uint16       `cbor:"1,keyasint" json:"version"`
	Opcodes []OpcodeInfo `cbor:"2,keyasint" json:"opcodes"`
}

// OpcodeInfo describes one catalogue entry.
type OpcodeInfo struct {
	Code   uint8  `cbor:"1,keyasint" json:"code"`
	Name   string `cbor:"2,keyasint" json:"name"`
	Arity  int    `cbor:"3,keyasint" json:"arity"`
	Effect string `cbor:"4,keyasint" json:"effect"`
}

// VerifyService implements the VerifyService Connect handlers.
type VerifyService struct {
	reg   *opcode.Registry
	pool  *WorkerPool
	cache *store.Store // nil disables caching
	opts  []verify.Option
}

// NewVerifyService creates a VerifyService.
func NewVerifyService(reg *opcode.Registry, pool *WorkerPool, cache *store.Store, opts []verify.Option) *VerifyService {
	if reg == nil {
		reg = opcode.Default
	}
	return &VerifyService{
		reg:   reg,
		pool:  pool,
		cache: cache,
		opts:  opts,
	}
}

// Verify verifies every unit in the request.
func (s *VerifyService) Verify(
	ctx context.Context,
	req *connect.Request[VerifyRequest],
) (*connect.Response[VerifyResponse], error) {
	units := req.Msg.Units
	if len(units) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("at least one unit is required"))
	}
	if len(units) > maxUnitsPerRequest {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%d units exceeds the limit of %d", len(units), maxUnitsPerRequest))
	}
	for i, u := range units {
		if len(u.Code) > maxWordsPerUnit {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unit %d (%s): %d words exceeds the limit of %d", i, u.Name, len(u.Code), maxWordsPerUnit))
		}
	}

	requestID := uuid.NewString()
	log.Infof("request %s: verifying %d units", requestID, len(units))

	resp := &VerifyResponse{
		RequestID: requestID,
		Reports:   make([]report.Report, len(units)),
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, u := range units {
		opts := verify.NewOptions(s.unitOptions(u)...)
		code := bytecode.Words(u.Code)
		hash, err := report.HashUnit(s.reg, code, opts)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}

		if cached, ok := s.lookup(hash); ok {
			cached.ID = uuid.NewString()
			cached.Unit = u.Name
			resp.Reports[i] = *cached
			resp.Cached++
			continue
		}

		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			value, err := s.pool.Do(ctx, func() any {
				return verify.VerifyStream(s.reg, code, verify.WithOptions(opts))
			})
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			r := report.New(name, hash, value.(verify.Result))
			resp.Reports[i] = r
			s.store(&r)
		}(i, u.Name)
	}
	wg.Wait()

	if firstErr != nil {
		if errors.Is(firstErr, context.Canceled) || errors.Is(firstErr, context.DeadlineExceeded) {
			return nil, connect.NewError(connect.CodeCanceled, firstErr)
		}
		if errors.Is(firstErr, ErrPoolStopped) {
			return nil, connect.NewError(connect.CodeUnavailable, firstErr)
		}
		return nil, connect.NewError(connect.CodeInternal, firstErr)
	}

	log.Debugf("request %s: done, %d cached", requestID, resp.Cached)
	return connect.NewResponse(resp), nil
}

// Catalogue lists the opcodes the server's registry accepts.
func (s *VerifyService) Catalogue(
	ctx context.Context,
	req *connect.Request[CatalogueRequest],
) (*connect.Response[CatalogueResponse], error) {
	resp := &CatalogueResponse{Version: uint16(s.reg.Version())}
	for _, op := range s.reg.Opcodes() {
		info, _ := s.reg.Lookup(int(op))
		resp.Opcodes = append(resp.Opcodes, OpcodeInfo{
			Code:   uint8(op),
			Name:   info.Name,
			Arity:  info.Arity,
			Effect: info.Effect.String(),
		})
	}
	return connect.NewResponse(resp), nil
}

// unitOptions layers a unit's own settings over the server defaults.
func (s *VerifyService) unitOptions(u UnitRequest) []verify.Option {
	opts := append([]verify.Option(nil), s.opts...)
	if u.EntryDepth != nil {
		opts = append(opts, verify.WithEntryDepth(*u.EntryDepth))
	}
	if u.ExitDepth != nil {
		opts = append(opts, verify.WithExitDepth(*u.ExitDepth))
	}
	return opts
}

func (s *VerifyService) lookup(hash report.Hash) (*report.Report, bool) {
	if s.cache == nil {
		return nil, false
	}
	r, err := s.cache.Get(hash)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warningf("cache lookup %s: %v", hash.Short(), err)
		}
		return nil, false
	}
	return r, true
}

func (s *VerifyService) store(r *report.Report) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(r); err != nil {
		log.Warningf("cache store %s: %v", r.Hash.Short(), err)
	}
}
