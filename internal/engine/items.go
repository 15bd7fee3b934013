package engine

import (
	"strings"

	"merakihec/internal/data"
)

// DeviceItem is one device fan-out work item. Record is the device as
// returned by the devices walk and is never modified; shapers copy it.
type DeviceItem struct {
	NetworkID string
	Serial    string
	Model     string
	Record    data.Record
}

// NetworkItem is one network fan-out work item.
type NetworkItem struct {
	NetworkID string
	Name      string
}

// deviceItems builds work items from device records, skipping records that
// lack a serial or network id. When networks is non-nil only devices of
// those networks are kept.
func deviceItems(recs []data.Record, networks map[string]struct{}) (items []DeviceItem, skipped int) {
	items = make([]DeviceItem, 0, len(recs))
	for _, r := range recs {
		serial, ok := r.String("serial")
		if !ok {
			skipped++
			continue
		}
		networkID, ok := r.String("networkId")
		if !ok {
			skipped++
			continue
		}
		if networks != nil {
			if _, keep := networks[networkID]; !keep {
				continue
			}
		}
		items = append(items, DeviceItem{
			NetworkID: networkID,
			Serial:    serial,
			Model:     r.Text("model"),
			Record:    r,
		})
	}
	return items, skipped
}

func networkItems(recs []data.Record) []NetworkItem {
	items := make([]NetworkItem, 0, len(recs))
	for _, r := range recs {
		id, ok := r.String("id")
		if !ok {
			continue
		}
		items = append(items, NetworkItem{NetworkID: id, Name: r.Text("name")})
	}
	return items
}

func filterByModelPrefix(items []DeviceItem, prefix string) []DeviceItem {
	out := make([]DeviceItem, 0, len(items))
	for _, it := range items {
		if hasModelPrefix(it.Model, prefix) {
			out = append(out, it)
		}
	}
	return out
}

func hasModelPrefix(model, prefix string) bool {
	return prefix != "" && strings.HasPrefix(model, prefix)
}

func limit[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[:n]
}
