package p2p

import (
	"context"
	"fmt"
	"time"
)

// workers
// ==========================================

// sweepPendingRequestsWorker drops resolved background requests from the pending arena. Cancellable.
func (node *Node) sweepPendingRequestsWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-node.ctx.Done():
			return
		case <-ticker.C:
			if swept := node.pending.sweep(); swept > 0 {
				logMsg(node.name, "sweepPendingRequestsWorker", fmt.Sprintf("swept %d resolved requests, %d left", swept, node.pending.size()))
			}
		}
	}
}

// pollBlockHeightWorker keeps the known chain height up to date. The node only becomes ready once a
// height arrived, unless FORCE_START is set. Cancellable.
func (node *Node) pollBlockHeightWorker(interval time.Duration) {
	node.pollBlockHeight()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-node.ctx.Done():
			return
		case <-ticker.C:
			node.pollBlockHeight()
		}
	}
}

func (node *Node) pollBlockHeight() {
	ctx, cancel := context.WithTimeout(node.ctx, node.v.GetDuration("DAEMON_REQUEST_TIMEOUT"))
	defer cancel()
	height, err := node.daemon.GetInfo(ctx)
	if err != nil {
		logError(node.name, "pollBlockHeight", err, "failed to get block height from the daemon")
		return
	}
	if height != node.sn.BlockHeight() {
		logMsg(node.name, "pollBlockHeight", fmt.Sprintf("new block height %d", height))
	}
	node.sn.setBlockHeight(height)
}
