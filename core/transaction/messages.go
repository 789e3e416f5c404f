package transaction

import "github.com/loomdb/loom/core/executor"

// requestKind discriminates the payload of one mailbox message.
type requestKind int

const (
	reqSingle requestKind = iota
	reqBatch
	reqCommit
	reqRollback
)

func (k requestKind) String() string {
	switch k {
	case reqSingle:
		return "single"
	case reqBatch:
		return "batch"
	case reqCommit:
		return "commit"
	case reqRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// request is one client-to-actor message. The reply channel is buffered
// with capacity one so the actor's single send can never block, even when
// the caller has already given up.
type request struct {
	kind requestKind
	op   executor.Operation   // set for reqSingle
	ops  []executor.Operation // set for reqBatch
	resp chan response
}

// response carries the outcome of one request. Exactly one response is sent
// per request, regardless of which code path produced it.
type response struct {
	single *executor.Response   // set for a successful reqSingle
	batch  []executor.BatchItem // set for a successful reqBatch
	err    error
}

// reply delivers the one and only response for this request.
func (r request) reply(resp response) {
	r.resp <- resp
}
