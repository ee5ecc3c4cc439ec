package holdregistry

import (
	"fmt"
	"strconv"
	"time"
)

// Hold is the fast-store reservation record, hydrated from the hold hash.
type Hold struct {
	ID             string    `json:"hold_id"`
	ProductID      uint      `json:"product_id"`
	Qty            int       `json:"quantity"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	ExpiresAtEpoch int64     `json:"expires_at_epoch"`
	Version        int64     `json:"version"`
	LastAccessedAt time.Time `json:"last_accessed_at,omitempty"`
}

// IsActive reports whether the hold can still be converted or released.
func (h *Hold) IsActive() bool {
	return h.Status == StatusActive
}

// ExpiredBy reports whether the hold deadline has passed at the given
// instant. The boundary is inclusive: expires_at_epoch == now is expired.
func (h *Hold) ExpiredBy(now time.Time) bool {
	return h.ExpiresAtEpoch <= now.Unix()
}

// fields returns the hash representation written on create.
func (h *Hold) fields() map[string]interface{} {
	return map[string]interface{}{
		"product_id":       h.ProductID,
		"qty":              h.Qty,
		"status":           h.Status,
		"created_at":       h.CreatedAt.UTC().Format(time.RFC3339),
		"expires_at":       h.ExpiresAt.UTC().Format(time.RFC3339),
		"expires_at_epoch": h.ExpiresAtEpoch,
		"version":          h.Version,
	}
}

// ParseHold normalizes a raw hold hash into a Hold. Numeric fields arrive
// as strings from the store.
func ParseHold(id string, raw map[string]string) (*Hold, error) {
	if len(raw) == 0 {
		return nil, ErrHoldNotFound
	}

	hold := &Hold{ID: id, Status: raw["status"]}

	productID, err := strconv.ParseUint(raw["product_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("hold %s: bad product_id %q", id, raw["product_id"])
	}
	hold.ProductID = uint(productID)

	qty, err := strconv.Atoi(raw["qty"])
	if err != nil {
		return nil, fmt.Errorf("hold %s: bad qty %q", id, raw["qty"])
	}
	hold.Qty = qty

	hold.ExpiresAtEpoch, err = strconv.ParseInt(raw["expires_at_epoch"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("hold %s: bad expires_at_epoch %q", id, raw["expires_at_epoch"])
	}

	if v := raw["version"]; v != "" {
		hold.Version, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := raw["created_at"]; v != "" {
		hold.CreatedAt, _ = time.Parse(time.RFC3339, v)
	}
	if v := raw["expires_at"]; v != "" {
		hold.ExpiresAt, _ = time.Parse(time.RFC3339, v)
	}
	if v := raw["last_accessed_at"]; v != "" {
		hold.LastAccessedAt, _ = time.Parse(time.RFC3339, v)
	}
	return hold, nil
}
