package health

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

func newStatus(node, status, message string) Status {
	return Status{
		Component: node,
		Healthy:   status == "healthy",
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy reports a node that is doing its job.
func NewHealthy(node, message string) Status { return newStatus(node, "healthy", message) }

// NewUnhealthy reports a node that failed or is invalid.
func NewUnhealthy(node, message string) Status { return newStatus(node, "unhealthy", message) }

// NewDegraded reports a node that is paused or still waiting for buffers.
func NewDegraded(node, message string) Status { return newStatus(node, "degraded", message) }

// Aggregate rolls the node statuses of a pipeline into one. Any unhealthy
// node makes the pipeline unhealthy; otherwise any degraded node makes it
// degraded. The message names the offending nodes in sorted order.
func Aggregate(pipeline string, nodes []Status) Status {
	if len(nodes) == 0 {
		return NewHealthy(pipeline, "no nodes to report")
	}

	var unhealthy, degraded []string
	for _, n := range nodes {
		switch {
		case n.IsUnhealthy():
			unhealthy = append(unhealthy, n.Component)
		case n.IsDegraded():
			degraded = append(degraded, n.Component)
		}
	}

	var status Status
	switch {
	case len(unhealthy) > 0:
		status = NewUnhealthy(pipeline, "unhealthy nodes: "+nodeList(unhealthy))
	case len(degraded) > 0:
		status = NewDegraded(pipeline, "degraded nodes: "+nodeList(degraded))
	default:
		status = NewHealthy(pipeline, fmt.Sprintf("all %d nodes healthy", len(nodes)))
	}
	status.SubStatuses = slices.Clone(nodes)
	return status
}

func nodeList(names []string) string {
	slices.Sort(names)
	return strings.Join(names, ", ")
}
