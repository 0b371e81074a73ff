package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/text/currency"

	"github.com/and161185/shopcart/internal/model"
)

// printCart renders the lines and the locally computed total. A zero cur omits the currency code.
func printCart(w io.Writer, c model.Cart, cur currency.Unit) {
	if len(c.Items) == 0 {
		fmt.Fprintln(w, "cart is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRODUCT\tQTY\tPRICE\tSUBTOTAL")
	for _, li := range c.Items {
		price := li.UnitPrice.StringFixed(2)
		if li.OriginalPrice != nil && !li.OriginalPrice.Equal(li.UnitPrice) {
			price += " (was " + li.OriginalPrice.StringFixed(2) + ")"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", li.ProductID, label(li.Product), li.Quantity, price, li.Subtotal().StringFixed(2))
	}
	_ = tw.Flush()
	if cur == (currency.Unit{}) {
		fmt.Fprintf(w, "total: %s\n", c.Total().StringFixed(2))
		return
	}
	fmt.Fprintf(w, "total: %s %s\n", c.Total().StringFixed(2), cur)
}

func label(p model.ProductRef) string {
	switch {
	case p.Name == "":
		return fmt.Sprintf("#%d", p.ID)
	case p.Brand != "":
		return p.Brand + " " + p.Name
	}
	return p.Name
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func needProduct(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: need -p <product id>", errUsage)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
