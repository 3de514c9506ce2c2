package table

import (
	"slices"

	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/schema"
	"github.com/alris/cms-backend/pkg/service"
)

// Snapshot is a copy of the controller state that is safe to read and
// serialise while the controller keeps changing.
type Snapshot struct {
	Collection    string             `json:"collection"`
	Query         service.QueryState `json:"query"`
	Schema        service.Schema     `json:"schema"`
	Sortable      []string           `json:"sortable"`
	Rows          []service.Record   `json:"rows"`
	Total         int                `json:"total"`
	PageCount     int                `json:"pageCount"`
	Status        Status             `json:"status"`
	Loading       bool               `json:"loading"`
	SearchPending bool               `json:"searchPending"`
	Error         *SnapshotError     `json:"error,omitempty"`
	PendingDelete string             `json:"pendingDelete,omitempty"`
	Deletable     bool               `json:"deletable"`
	Generation    uint64             `json:"generation"`
}

type SnapshotError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// FirstRow is the serial number of the first row on the page, counting
// from 1.
func (s Snapshot) FirstRow() int {
	return s.Query.Offset() + 1
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

func (c *Controller) Collection() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.collection
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Collection:    c.collection,
		Query:         c.query,
		Schema:        service.NewSchema(c.schema.Fields...),
		Rows:          slices.Clone(c.rows),
		Total:         c.total,
		PageCount:     service.PageCount(c.total, c.query.PageSize),
		Status:        c.status,
		Loading:       c.loading,
		SearchPending: c.pendingSearch != nil,
		PendingDelete: c.pendingDelete,
		Deletable:     c.policy(c.collection).Deletable && c.deleter != nil,
		Generation:    c.generation,
	}

	for _, f := range c.schema.Fields {
		if schema.Sortable(f.Kind) {
			s.Sortable = append(s.Sortable, f.Name)
		}
	}

	if c.lastErr != nil {
		s.Error = &SnapshotError{
			Kind:    errs.KindOf(c.lastErr).String(),
			Message: errs.UserMessage(c.lastErr),
		}
	}

	return s
}
