// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package i18n

import (
	"math"

	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/humanize/locale/fr"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders numbers in the format of a language. Languages without a
// humanize locale are rendered in English.
type Formatter struct {
	humanizer *humanize.Humanizer
	printer   *message.Printer
}

// NewFormatter returns a Formatter for tag.
func NewFormatter(tag language.Tag) *Formatter {
	collection := humanize.MustNew(humanize.WithLocale(de.New(), fr.New()))
	return &Formatter{
		humanizer: collection.CreateHumanizer(tag),
		printer:   message.NewPrinter(tag),
	}
}

// Distance formats meters for display: whole meters below 1km, one decimal below 10km and
// whole kilometers beyond. Invalid distances are rendered as "-".
func (f *Formatter) Distance(meters float64) string {
	switch {
	case math.IsNaN(meters) || math.IsInf(meters, 0) || meters < 0:
		return "-"
	case meters < 1000:
		return f.humanizer.Intcomma(int64(meters)) + "m"
	case meters < 10_000:
		return f.printer.Sprintf("%.1fkm", meters/1000)
	default:
		return f.humanizer.Intcomma(int64(meters/1000)) + "km"
	}
}
