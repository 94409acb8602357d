package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/utafrali/cartsync/internal/service"
)

// CartOutput is the printed form of a cart. Amounts are fixed to two
// decimals.
type CartOutput struct {
	Slot      string       `json:"slot" yaml:"slot"`
	Version   int          `json:"version" yaml:"version"`
	Items     []ItemOutput `json:"items" yaml:"items"`
	Subtotal  string       `json:"subtotal" yaml:"subtotal"`
	Shipping  string       `json:"shipping" yaml:"shipping"`
	Total     string       `json:"total" yaml:"total"`
	ItemCount int          `json:"item_count" yaml:"item_count"`
}

// ItemOutput is one printed line.
type ItemOutput struct {
	ProductID string `json:"product_id" yaml:"product_id"`
	Name      string `json:"name" yaml:"name"`
	Price     string `json:"price" yaml:"price"`
	Quantity  int    `json:"quantity" yaml:"quantity"`
	LineTotal string `json:"line_total" yaml:"line_total"`
}

// NewCartOutput converts view for printing.
func NewCartOutput(view *service.CartView) CartOutput {
	out := CartOutput{
		Slot:      Slot,
		Version:   view.Version,
		Items:     make([]ItemOutput, 0, len(view.Items)),
		Subtotal:  view.Summary.Subtotal.StringFixed(2),
		Shipping:  view.Summary.Shipping.StringFixed(2),
		Total:     view.Summary.Total.StringFixed(2),
		ItemCount: view.Summary.ItemCount,
	}
	for _, it := range view.Items {
		out.Items = append(out.Items, ItemOutput{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     it.Price.StringFixed(2),
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal().StringFixed(2),
		})
	}
	return out
}

// Render writes view to w in format.
func Render(w io.Writer, format string, view *service.CartView) error {
	out := NewCartOutput(view)
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	default:
		return renderText(w, out)
	}
}

func renderText(w io.Writer, out CartOutput) error {
	if _, err := fmt.Fprintf(w, "Cart %s (version %d)\n", out.Slot, out.Version); err != nil {
		return err
	}
	if len(out.Items) == 0 {
		fmt.Fprintln(w, "(empty)")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PRODUCT\tNAME\tQTY\tPRICE\tTOTAL")
		for _, it := range out.Items {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", it.ProductID, it.Name, it.Quantity, it.Price, it.LineTotal)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-10s%s\n", "Subtotal:", out.Subtotal)
	fmt.Fprintf(w, "%-10s%s\n", "Shipping:", out.Shipping)
	_, err := fmt.Fprintf(w, "%-10s%s\n", "Total:", out.Total)
	return err
}
