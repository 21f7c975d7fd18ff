// ABOUTME: Transient, dismissable user notices posted when a send is rolled back

package conversation

import (
	"time"

	"github.com/google/uuid"
)

// DefaultNoticeTTL is how long a notice stays up unless dismissed.
const DefaultNoticeTTL = 5 * time.Second

// Notice is a short-lived message for the user.
type Notice struct {
	ID      string
	Text    string
	Err     error
	Expires time.Time
}

// postNotice replaces the current notice and schedules its expiry.
func (v *View) postNotice(text string, err error) Notice {
	n := Notice{
		ID:      uuid.NewString(),
		Text:    text,
		Err:     err,
		Expires: time.Now().Add(v.noticeTTL),
	}

	v.mu.Lock()
	if v.noticeTimer != nil {
		v.noticeTimer.Stop()
	}
	v.notice = &n
	v.noticeTimer = time.AfterFunc(v.noticeTTL, func() { v.expireNotice(n.ID) })
	v.mu.Unlock()

	v.emit(Event{Type: EventNotice, Notice: n, Err: err})
	return n
}

func (v *View) expireNotice(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.notice != nil && v.notice.ID == id {
		v.notice = nil
		v.noticeTimer = nil
	}
}

// Notice returns the notice currently shown, if any.
func (v *View) Notice() (Notice, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.notice == nil {
		return Notice{}, false
	}
	return *v.notice, true
}

// DismissNotice removes the current notice early.
func (v *View) DismissNotice() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.noticeTimer != nil {
		v.noticeTimer.Stop()
		v.noticeTimer = nil
	}
	v.notice = nil
}
