package storefront

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tidecrate/storefront/internal/shipments"
	"github.com/tidecrate/storefront/pkg/querycache"
)

// Stages returns an order's shipment stages in stage order.
func (c *Client) Stages(ctx context.Context, orderID uuid.UUID) ([]shipments.StageDTO, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	return querycache.Fetch(ctx, c.cache, querycache.StagesForOrder(orderID), c.stagesFetcher(orderID))
}

func (c *Client) stagesFetcher(orderID uuid.UUID) func(context.Context) ([]shipments.StageDTO, error) {
	return func(ctx context.Context) ([]shipments.StageDTO, error) {
		out := []shipments.StageDTO{}
		if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+orderID.String()+"/stages", nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// ProvisionStages creates the stage rows of a confirmed order that has none.
func (c *Client) ProvisionStages(ctx context.Context, orderID uuid.UUID) ([]shipments.StageDTO, error) {
	release, err := c.guard.Acquire("provision:" + orderID.String())
	if err != nil {
		return nil, err
	}
	defer release()
	out := []shipments.StageDTO{}
	if err := c.do(ctx, http.MethodPost, "/api/admin/v1/orders/"+orderID.String()+"/stages/provision", nil, &out); err != nil {
		return nil, err
	}
	c.cache.Invalidate(querycache.StagesForOrder(orderID))
	return out, nil
}

// AdvanceShipment marks stages 1..stage completed and the rest pending.
//
// The plan is computed against the cached stage list and applied to the cache
// at once. The server recomputes and writes the whole batch in one
// transaction, so a failure never leaves a half-advanced order behind. On
// success the cache keeps the optimistic list and is refetched once; on
// failure the snapshot is restored, marked stale and the error returned. An
// empty plan makes no remote writes. Two clicks racing before the first batch
// settles plan against optimistic state.
func (c *Client) AdvanceShipment(ctx context.Context, orderID uuid.UUID, stage int) ([]shipments.Update, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	release, err := c.guard.Acquire("advance:" + orderID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	key := querycache.StagesForOrder(orderID)
	fetch := c.stagesFetcher(orderID)
	current, err := querycache.Fetch(ctx, c.cache, key, fetch)
	if err != nil {
		return nil, err
	}
	states := make([]shipments.StageState, 0, len(current))
	for _, s := range current {
		states = append(states, s.State())
	}
	plan, err := shipments.PlanAdvance(states, stage)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return plan, nil
	}

	now := time.Now().UTC()
	patch := func(stages []shipments.StageDTO) []shipments.StageDTO {
		return applyPlan(stages, plan, now)
	}
	var result shipments.AdvanceResultDTO
	commit := func(ctx context.Context) error {
		body := shipments.AdvanceRequest{StageNumber: stage}
		return c.do(ctx, http.MethodPost, "/api/admin/v1/orders/"+orderID.String()+"/stages/advance", body, &result)
	}
	if err := querycache.Optimistic(ctx, c.cache, key, patch, commit); err != nil {
		// the request may have landed before the transport failed
		c.cache.Invalidate(key)
		return nil, err
	}

	c.cache.InvalidatePrefix(querycache.PrefixOrders)
	if _, err := querycache.Refetch(ctx, c.cache, key, fetch); err != nil && c.logg != nil {
		c.logg.Warn(c.logg.WithOrderID(ctx, orderID.String()), "stage refetch after advance failed: "+err.Error())
	}
	if result.Plan != nil {
		return result.Plan, nil
	}
	return plan, nil
}

// applyPlan returns a new list with plan applied and timestamps stamped.
func applyPlan(stages []shipments.StageDTO, plan []shipments.Update, now time.Time) []shipments.StageDTO {
	targets := make(map[uuid.UUID]shipments.Update, len(plan))
	for _, u := range plan {
		targets[u.StageID] = u
	}
	out := make([]shipments.StageDTO, len(stages))
	for i, s := range stages {
		if u, ok := targets[s.ID]; ok {
			stamps := shipments.Timestamps{StartedAt: s.StartedAt, CompletedAt: s.CompletedAt}.Stamp(u.To, now)
			s.Status = u.To
			s.StartedAt = stamps.StartedAt
			s.CompletedAt = stamps.CompletedAt
			s.UpdatedAt = now
		}
		out[i] = s
	}
	return out
}
