package chat

import "time"

// Watermark is the (CreatedAt, ID) position up to which a conversation has been read.
type Watermark struct {
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (w Watermark) IsZero() bool { return w.MessageID == "" && w.CreatedAt.IsZero() }

func (w Watermark) asMessage() Message {
	return Message{ID: w.MessageID, CreatedAt: w.CreatedAt}
}

// Covers reports whether m sits at or before the watermark.
func (w Watermark) Covers(m Message) bool {
	return !w.IsZero() && Compare(m, w.asMessage()) <= 0
}

// View is the in-memory state of one conversation: its messages in
// (CreatedAt, ID) order with unique ids, and the read watermark.
// A View is not safe for concurrent use; Store serializes access.
type View struct {
	pair      Pair
	messages  []Message
	index     map[string]int
	watermark Watermark
}

func NewView(pair Pair) *View {
	return &View{pair: pair, index: make(map[string]int)}
}

func (v *View) Pair() Pair { return v.pair }

func (v *View) Len() int { return len(v.messages) }

// Messages returns a copy in presentation order.
func (v *View) Messages() []Message {
	out := make([]Message, len(v.messages))
	copy(out, v.messages)
	return out
}

func (v *View) Get(id string) (Message, bool) {
	i, ok := v.index[id]
	if !ok {
		return Message{}, false
	}
	return v.messages[i], true
}

func (v *View) Has(id string) bool {
	_, ok := v.index[id]
	return ok
}

// Merge folds batch into the view. Messages from other pairs are ignored and
// an id already present is never appended twice; its read flag can only go
// from false to true. It returns how many new messages were added.
func (v *View) Merge(batch []Message) int {
	added := 0
	for _, m := range batch {
		if !v.pair.Contains(m) {
			continue
		}
		if i, ok := v.index[m.ID]; ok {
			if m.IsRead {
				v.messages[i].IsRead = true
			}
			continue
		}
		v.index[m.ID] = len(v.messages)
		v.messages = append(v.messages, m)
		added++
	}
	if added > 0 {
		v.reorder()
	}
	return added
}

// Replace swaps the content for a full fetch result. Read flags already
// seen as true stay true even if batch is older.
func (v *View) Replace(batch []Message) {
	prev := v.index
	prevMsgs := v.messages

	v.messages = make([]Message, 0, len(batch))
	v.index = make(map[string]int, len(batch))
	v.Merge(batch)

	for i, m := range v.messages {
		if j, ok := prev[m.ID]; ok && prevMsgs[j].IsRead {
			v.messages[i].IsRead = true
		}
	}
}

func (v *View) Watermark() Watermark { return v.watermark }

// Advance moves the watermark to m. It refuses to move backwards or sideways.
func (v *View) Advance(m Message) bool {
	if v.watermark.Covers(m) {
		return false
	}
	v.watermark = Watermark{MessageID: m.ID, CreatedAt: m.CreatedAt}
	return true
}

// unreadUpTo lists ids addressed to reader, still unread, at or before upTo.
func (v *View) unreadUpTo(reader string, upTo Message) []string {
	var ids []string
	for _, m := range v.messages {
		if Compare(m, upTo) > 0 {
			break
		}
		if m.RecipientID == reader && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func (v *View) markRead(ids []string) {
	for _, id := range ids {
		if i, ok := v.index[id]; ok {
			v.messages[i].IsRead = true
		}
	}
}

// lastIncoming is the newest message addressed to reader.
func (v *View) lastIncoming(reader string) (Message, bool) {
	for i := len(v.messages) - 1; i >= 0; i-- {
		if v.messages[i].RecipientID == reader {
			return v.messages[i], true
		}
	}
	return Message{}, false
}

func (v *View) unreadCount(reader string) int {
	n := 0
	for _, m := range v.messages {
		if m.RecipientID == reader && !m.IsRead {
			n++
		}
	}
	return n
}

func (v *View) reorder() {
	Sort(v.messages)
	for i, m := range v.messages {
		v.index[m.ID] = i
	}
}
