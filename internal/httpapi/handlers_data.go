package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/tiled-data/tiled/internal/adapter"
	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
	"github.com/tiled-data/tiled/internal/serialize"
)

// negotiateAndWrite resolves an encoder for node's specs/family against
// the request's format=/Accept negotiation, encodes payload, and writes
// the response two-level dispatch.
func (s *Server) negotiateAndWrite(w http.ResponseWriter, r *http.Request, specs []string, node *resolvedNode, payload adapter.Payload) {
	mediaTypes := serialize.NegotiatedMediaTypes(r.URL.Query().Get("format"), r.Header.Get("Accept"))
	enc, err := s.Serializers.Dispatch(specs, node.Node.StructureFamily, mediaTypes)
	if err != nil {
		WriteError(w, err)
		return
	}
	body, err := enc.Encode(payload.Structure, node.Node.Metadata, payload.Bytes)
	if err != nil {
		WriteError(w, serialize.WrapEncodeError(err))
		return
	}
	w.Header().Set("Content-Type", enc.MediaType())
	_, _ = w.Write(body)
}

func specsOf(node *resolvedNode) []string {
	var specs []string
	_ = json.Unmarshal(node.Node.Specs, &specs)
	return specs
}

// handleArrayFull serves GET /array/full/{path}: the entire array,
// read without block slicing FullReader path.
func (s *Server) handleArrayFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeReadData)); err != nil {
		WriteError(w, err)
		return
	}
	a, err := s.resolveAdapter(ctx, node)
	if err != nil {
		WriteError(w, err)
		return
	}
	full, ok := a.(adapter.FullReader)
	if !ok {
		WriteError(w, apperr.BadRequest("this node does not support a full read; use /array/block"))
		return
	}
	payload, err := full.Read(ctx, nil)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.SizeGuard.Check(int64(len(payload.Bytes))); err != nil {
		WriteError(w, err)
		return
	}
	s.negotiateAndWrite(w, r, specsOf(node), node, payload)
}

// handleArrayBlock serves GET /array/block/{path}?block=0,0&slice=...:
// one chunk of an array-family node block addressing
// and slicing grammar.
func (s *Server) handleArrayBlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeReadData)); err != nil {
		WriteError(w, err)
		return
	}
	reader, ok := mustAdapterAs[adapter.ArrayReader](s, w, ctx, node)
	if !ok {
		return
	}
	block, err := parseBlockParam(r.URL.Query().Get("block"))
	if err != nil {
		WriteError(w, apperr.BadRequest("%v", err))
		return
	}
	slice, err := adapter.ParseSlice(r.URL.Query().Get("slice"))
	if err != nil {
		WriteError(w, err)
		return
	}
	payload, err := reader.ReadBlock(ctx, block, slice)
	if err != nil {
		WriteError(w, err)
		return
	}
	if slice != nil && len(slice.Dims) > 0 {
		if node.Structure.Array == nil {
			WriteError(w, apperr.BadRequest("slicing is only supported for array structures"))
			return
		}
		blockShape, err := node.Structure.Array.BlockShape(block)
		if err != nil {
			WriteError(w, apperr.BadRequest("%v", err))
			return
		}
		payload, err = adapter.ApplySlice(payload, blockShape, slice)
		if err != nil {
			WriteError(w, err)
			return
		}
	}
	if err := s.SizeGuard.Check(int64(len(payload.Bytes))); err != nil {
		WriteError(w, err)
		return
	}
	s.negotiateAndWrite(w, r, specsOf(node), node, payload)
}

// handleArrayBlockWrite serves PUT /array/block/{path}?block=0,0: writes
// one chunk, restricted to writable data sources
// Management invariant.
func (s *Server) handleArrayBlockWrite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeWriteData)); err != nil {
		WriteError(w, err)
		return
	}
	writer, ok := mustAdapterAs[adapter.ArrayWriter](s, w, ctx, node)
	if !ok {
		return
	}
	block, err := parseBlockParam(r.URL.Query().Get("block"))
	if err != nil {
		WriteError(w, apperr.BadRequest("%v", err))
		return
	}
	body, err := readAll(r)
	if err != nil {
		WriteError(w, apperr.BadRequest("%v", err))
		return
	}
	if err := writer.WriteBlock(ctx, block, body); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTableFull serves GET /table/full/{path}: the entire table.
func (s *Server) handleTableFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeReadData)); err != nil {
		WriteError(w, err)
		return
	}
	full, ok := mustAdapterAs[adapter.FullReader](s, w, ctx, node)
	if !ok {
		return
	}
	var fields []string
	if v := r.URL.Query().Get("field"); v != "" {
		fields = splitCSV(v)
	}
	payload, err := full.Read(ctx, fields)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.SizeGuard.Check(int64(len(payload.Bytes))); err != nil {
		WriteError(w, err)
		return
	}
	s.negotiateAndWrite(w, r, specsOf(node), node, payload)
}

// handleTablePartition serves GET /table/partition/{path}?partition=N.
func (s *Server) handleTablePartition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeReadData)); err != nil {
		WriteError(w, err)
		return
	}
	reader, ok := mustAdapterAs[adapter.TablePartitionReader](s, w, ctx, node)
	if !ok {
		return
	}
	partition, err := parseIntParam(r.URL.Query().Get("partition"))
	if err != nil {
		WriteError(w, apperr.BadRequest("invalid partition: %v", err))
		return
	}
	var columns []string
	if v := r.URL.Query().Get("column"); v != "" {
		columns = splitCSV(v)
	}
	payload, err := reader.ReadPartition(ctx, partition, columns)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.SizeGuard.Check(int64(len(payload.Bytes))); err != nil {
		WriteError(w, err)
		return
	}
	s.negotiateAndWrite(w, r, specsOf(node), node, payload)
}

// handleTablePartitionWrite serves PUT /table/partition/{path}?partition=N:
// either replaces a partition outright or appends to it, selected by the
// append=true query flag streaming-append use case.
func (s *Server) handleTablePartitionWrite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeWriteData)); err != nil {
		WriteError(w, err)
		return
	}
	writer, ok := mustAdapterAs[adapter.TablePartitionWriter](s, w, ctx, node)
	if !ok {
		return
	}
	partition, err := parseIntParam(r.URL.Query().Get("partition"))
	if err != nil {
		WriteError(w, apperr.BadRequest("invalid partition: %v", err))
		return
	}
	body, err := readAll(r)
	if err != nil {
		WriteError(w, apperr.BadRequest("%v", err))
		return
	}
	if r.URL.Query().Get("append") == "true" {
		err = writer.AppendPartition(ctx, partition, body)
	} else {
		err = writer.WritePartition(ctx, partition, body)
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAwkwardFull serves GET /awkward/full/{path}.
func (s *Server) handleAwkwardFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeReadData)); err != nil {
		WriteError(w, err)
		return
	}
	full, ok := mustAdapterAs[adapter.FullReader](s, w, ctx, node)
	if !ok {
		return
	}
	payload, err := full.Read(ctx, nil)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.SizeGuard.Check(int64(len(payload.Bytes))); err != nil {
		WriteError(w, err)
		return
	}
	s.negotiateAndWrite(w, r, specsOf(node), node, payload)
}

// handleAwkwardBuffers serves GET /awkward/buffers/{path}?form_key=a,b: the
// raw form-key buffers an awkward array is built from
func (s *Server) handleAwkwardBuffers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, _ := FromContext(ctx)
	path := pathParam(r)

	node, err := s.resolveNode(ctx, path, authn)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := s.authorizeNode(ctx, node, authn, auth.NewScopeSet(auth.ScopeReadData)); err != nil {
		WriteError(w, err)
		return
	}
	reader, ok := mustAdapterAs[adapter.AwkwardBufferReader](s, w, ctx, node)
	if !ok {
		return
	}
	formKeys := splitCSV(r.URL.Query().Get("form_key"))
	buffers, err := reader.ReadBuffers(ctx, formKeys)
	if err != nil {
		WriteError(w, err)
		return
	}
	var total int64
	for _, b := range buffers {
		total += int64(len(b))
	}
	if err := s.SizeGuard.Check(total); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buffers)
}
