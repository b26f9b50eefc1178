package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/MannyJMusic/dfl-desktop/vast"
)

func (c *Console) handleOffers(ctx context.Context) {
	fmt.Fprintln(c.out, "\n=== Instance & Volume Offer Search ===")

	query := c.promptText("Offer query", c.cfg.Search.Query)
	limit := c.promptInt("Result limit", c.cfg.Search.Limit, 1)
	sortBy := c.promptText("Sort by (field)", c.cfg.Search.SortBy)
	defOrder := "asc"
	if !c.cfg.SortAscending() {
		defOrder = "desc"
	}
	order := c.promptText("Order (asc/desc)", defOrder)
	ascending := !strings.EqualFold(order, "desc")

	offers, err := c.client.SearchOffers(ctx, query, limit, sortBy, ascending)
	if err != nil {
		fmt.Fprintf(c.out, "\nFailed to fetch offers: %s\n", errorDetail(err))
		c.waitForEnter()
		return
	}
	if len(offers) == 0 {
		fmt.Fprintln(c.out, "No offers matched the query.")
		c.waitForEnter()
		return
	}

	c.lastOffers = offers

	// Fetch matched volume asks per machine so the wizard can reuse them.
	for _, offer := range offers {
		for _, line := range formatOfferSummary(offer) {
			fmt.Fprintln(c.out, line)
		}

		machineID := offer.FirstString("machine_id")
		if machineID != "" {
			if _, cached := c.lastVolumeOffers[machineID]; !cached {
				volumes, err := c.client.SearchVolumes(ctx, machineID)
				if err != nil {
					c.lastVolumeOffers[machineID] = nil
					fmt.Fprintf(c.out, "  volumes: error loading volumes (%s)\n", errorDetail(err))
				} else {
					c.lastVolumeOffers[machineID] = volumes
				}
			}
		}

		volumes := c.lastVolumeOffers[machineID]
		if len(volumes) > 0 {
			fmt.Fprintf(c.out, "  volumes: %d matched\n", len(volumes))
			fmt.Fprintf(c.out, "   ↳ top volume: %s\n", formatVolumeSummary(volumes[0]))
		} else {
			fmt.Fprintln(c.out, "  volumes: none matched")
		}
		fmt.Fprintln(c.out)
	}

	c.waitForEnter()
}

// selectOffer lets the user pick from the last offer search, running the
// default search first when nothing is loaded.
func (c *Console) selectOffer(ctx context.Context) (vast.Record, bool) {
	if len(c.lastOffers) == 0 {
		fmt.Fprintln(c.out, "No offers loaded yet. Running default search...")
		offers, err := c.client.SearchOffers(ctx, c.cfg.Search.Query, c.cfg.Search.Limit, c.cfg.Search.SortBy, c.cfg.SortAscending())
		if err != nil {
			fmt.Fprintf(c.out, "Unable to load offers: %s\n", errorDetail(err))
			c.waitForEnter()
			return nil, false
		}
		c.lastOffers = offers
	}
	if len(c.lastOffers) == 0 {
		fmt.Fprintln(c.out, "No offers available.")
		c.waitForEnter()
		return nil, false
	}

	labels := make([]string, len(c.lastOffers))
	for i, offer := range c.lastOffers {
		labels[i] = formatOfferOption(offer)
	}
	result := c.promptSelect("Select an instance offer", labels, nil)
	if result.cancelled {
		return nil, false
	}
	return c.lastOffers[result.index], true
}
