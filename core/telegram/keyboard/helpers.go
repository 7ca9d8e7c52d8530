package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn describes a convenience wrapper for inline button properties.
// URL, when set, makes a link button instead of a callback button.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
	URL    string
}

const defaultBackButtonText = "« Back"

// RemoveKeyboard returns a markup that hides the keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// WebAppKeyboard builds a one-button reply keyboard launching a Mini App.
// Only Mini Apps opened from a reply keyboard can post web_app_data back.
func WebAppKeyboard(text, url string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	markup.Reply(markup.Row(markup.WebApp(text, &tele.WebApp{URL: url})))
	return markup
}

// InlineButtons builds an inline keyboard where each provided button is placed on its own row.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	rows := make([][]InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineBtn{b})
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			if btn.URL != "" {
				r[j] = *markup.URL(btn.Text, btn.URL).Inline()
				continue
			}
			r[j] = *markup.Data(btn.Text, btn.Unique, btn.Data).Inline()
		}
		inline = append(inline, r)
	}
	markup.InlineKeyboard = inline
	return markup
}

// Chunk splits a flat list of buttons into rows with up to n buttons per row.
func Chunk(buttons []InlineBtn, n int) [][]InlineBtn {
	if n < 1 {
		n = 1
	}
	var rows [][]InlineBtn
	for i := 0; i < len(buttons); i += n {
		end := min(i+n, len(buttons))
		rows = append(rows, buttons[i:end])
	}
	return rows
}

// BackButton returns a back button bound to action.
// Optional arguments override payload (first value) and label (second value).
func BackButton(action string, options ...string) InlineBtn {
	btn := InlineBtn{Text: defaultBackButtonText, Unique: action}
	if len(options) > 0 {
		btn.Data = options[0]
	}
	if len(options) > 1 && options[1] != "" {
		btn.Text = options[1]
	}
	return btn
}
