package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/minutron/minutron/constants"
)

// Callback tokens carried by inline buttons.
const (
	CallbackGenerate     = "gerar_minuta"
	CallbackDatePrefix   = "data_"
	CallbackVolumePrefix = "vol_"
	CallbackVolumeDelete = "vol_del"
	CallbackVolumeOK     = "vol_ok"
	CallbackCarrierPref  = "carrier_"
	CallbackPrintYes     = "print_yes"
	CallbackPrintNo      = "print_no"
	CallbackLabelYes     = "label_yes"
	CallbackLabelNo      = "label_no"
	CallbackMinutaPrefix = "minuta_"
)

var weekdays = [...]string{"Dom", "Seg", "Ter", "Qua", "Qui", "Sex", "Sáb"}

// GenerateKeyboard offers the single "generate" action.
func GenerateKeyboard() Keyboard {
	return Keyboard{{{Text: "📝 Gerar Minuta", Data: CallbackGenerate}}}
}

// DateOptions lists the ISO dates the date menu offers, today first.
func DateOptions(now time.Time) []string {
	out := make([]string, constants.DateMenuDays)
	for i := range out {
		out[i] = now.AddDate(0, 0, i).Format("2006-01-02")
	}
	return out
}

// DateKeyboard renders DateOptions two per row.
func DateKeyboard(now time.Time) Keyboard {
	var kb Keyboard
	var row []Button
	for _, iso := range DateOptions(now) {
		d, _ := time.Parse("2006-01-02", iso)
		row = append(row, Button{
			Text: fmt.Sprintf("%s (%s)", d.Format("02/01"), weekdays[d.Weekday()]),
			Data: CallbackDatePrefix + iso,
		})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	return kb
}

// VolumeKeyboard is the digit pad used to type the volume count.
func VolumeKeyboard() Keyboard {
	digit := func(d int) Button {
		return Button{Text: strconv.Itoa(d), Data: CallbackVolumePrefix + strconv.Itoa(d)}
	}
	return Keyboard{
		{digit(1), digit(2), digit(3)},
		{digit(4), digit(5), digit(6)},
		{digit(7), digit(8), digit(9)},
		{{Text: "⌫", Data: CallbackVolumeDelete}, digit(0), {Text: "✅ OK", Data: CallbackVolumeOK}},
	}
}

// CarrierKeyboard offers one button per candidate name.
func CarrierKeyboard(options []string) Keyboard {
	kb := make(Keyboard, 0, len(options))
	for i, name := range options {
		kb = append(kb, []Button{{Text: "🚚 " + name, Data: CallbackCarrierPref + strconv.Itoa(i)}})
	}
	return kb
}

// YesNoKeyboard is used for the print and label questions.
func YesNoKeyboard(yes, no string) Keyboard {
	return Keyboard{{{Text: "✅ Sim", Data: yes}, {Text: "❌ Não", Data: no}}}
}

// MinutasKeyboard lists archived minutas by file name.
func MinutasKeyboard(names []string) Keyboard {
	kb := make(Keyboard, 0, len(names))
	for i, n := range names {
		kb = append(kb, []Button{{Text: "📄 " + n, Data: CallbackMinutaPrefix + strconv.Itoa(i)}})
	}
	return kb
}

// IndexSuffix parses the integer after prefix, e.g. "carrier_2" -> 2.
func IndexSuffix(data, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(data, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
