package discord

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/jx"

	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

// Embed colors.
const (
	ColorPayPal     = 0xf1c40f
	ColorStripe     = 0x2ecc71
	ColorNewsletter = 0x3498db
)

const (
	titlePayPal     = "🟡 Naujas PayPal užsakymas (Apmokėta)"
	titleStripe     = "💳 Naujas Stripe užsakymas (Apmokėta)"
	titleNewsletter = "Naujas naujienlaiškio prenumeratorius"

	// Discord rejects field values longer than this.
	maxFieldValue = 1024
	spacer        = "\u200b"
	empty         = "-"
)

type field struct {
	name   string
	value  string
	inline bool
}

type embed struct {
	title     string
	color     int
	timestamp time.Time
	fields    []field
}

func orderEmbed(n *order.Notification, now time.Time) embed {
	e := embed{
		title:     titleStripe,
		color:     ColorStripe,
		timestamp: now,
	}
	if n.Provider == provider.PayPal {
		e.title = titlePayPal
		e.color = ColorPayPal
	}

	if n.OrderNumber != "" {
		e.fields = append(e.fields, field{name: "Užsakymo numeris", value: n.OrderNumber, inline: true})
	}
	c := n.Customer
	e.fields = append(e.fields,
		field{name: "Suma", value: "€" + n.Total.StringFixed(2), inline: true},
		field{name: spacer, value: spacer},
		field{name: "Vardas", value: orEmpty(c.Name), inline: true},
		field{name: "Pavardė", value: orEmpty(c.Surname), inline: true},
		field{name: "El. paštas", value: orEmpty(c.Email)},
		field{name: "Telefonas", value: orEmpty(c.Phone)},
		field{name: "Adresas", value: address(c)},
		field{name: "Prekės", value: itemsText(n)},
		field{name: "Spalva", value: colorsText(n.Items)},
	)
	return e
}

func subscriberEmbed(email string, now time.Time) embed {
	return embed{
		title:     titleNewsletter,
		color:     ColorNewsletter,
		timestamp: now,
		fields:    []field{{name: "El. paštas", value: orEmpty(email)}},
	}
}

func encodeOrder(n *order.Notification, now time.Time) []byte {
	return encode(orderEmbed(n, now))
}

func encodeSubscriber(email string, now time.Time) []byte {
	return encode(subscriberEmbed(email, now))
}

// encode renders {"embeds":[embed]}.
func encode(em embed) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("embeds", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("title", func(e *jx.Encoder) { e.Str(em.title) })
					e.Field("color", func(e *jx.Encoder) { e.Int(em.color) })
					e.Field("timestamp", func(e *jx.Encoder) {
						e.Str(em.timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
					})
					e.Field("fields", func(e *jx.Encoder) {
						e.Arr(func(e *jx.Encoder) {
							for _, f := range em.fields {
								e.Obj(func(e *jx.Encoder) {
									e.Field("name", func(e *jx.Encoder) { e.Str(f.name) })
									e.Field("value", func(e *jx.Encoder) { e.Str(truncate(f.value, maxFieldValue)) })
									e.Field("inline", func(e *jx.Encoder) { e.Bool(f.inline) })
								})
							}
						})
					})
				})
			})
		})
	})
	return e.Bytes()
}

func address(c order.Customer) string {
	street := orEmpty(c.Address)
	rest := strings.TrimSpace(c.City + " " + c.PostalCode)
	if rest == "" {
		return street
	}
	return street + ", " + rest
}

func itemsText(n *order.Notification) string {
	if len(n.Items) == 0 {
		return orEmpty(n.ItemsText)
	}
	lines := make([]string, len(n.Items))
	for i, it := range n.Items {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		lines[i] = "• " + it.Name + " × " + strconv.Itoa(qty) + " — €" + it.LineTotal().StringFixed(2)
	}
	return strings.Join(lines, "\n")
}

func colorsText(items []order.NotificationItem) string {
	var lines []string
	for _, it := range items {
		if it.Color != "" {
			lines = append(lines, "• "+it.Name+": "+it.Color)
		}
	}
	if len(lines) == 0 {
		return empty
	}
	return strings.Join(lines, "\n")
}

func orEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return empty
	}
	return s
}

// truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
