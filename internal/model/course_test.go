package model

import (
	"errors"
	"testing"
	"time"
)

func testCourse(capacity int, cost int64) *Course {
	return &Course{
		ID:         1,
		Title:      "Хатха-йога",
		Time:       time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Capacity:   capacity,
		PointsCost: cost,
	}
}

func TestEnroll_BookedUntilFull(t *testing.T) {
	c := testCourse(2, 10)

	out, err := c.Enroll(1)
	if err != nil || out != OutcomeBooked {
		t.Fatalf("Enroll(1) = %v, %v; want booked", out, err)
	}

	out, err = c.Enroll(2)
	if err != nil || out != OutcomeBooked {
		t.Fatalf("Enroll(2) = %v, %v; want booked", out, err)
	}

	out, err = c.Enroll(3)
	if err != nil || out != OutcomeWaitlisted {
		t.Fatalf("Enroll(3) = %v, %v; want waitlisted", out, err)
	}

	if len(c.Students) != 2 {
		t.Fatalf("len(Students) = %d, want 2 (capacity must never be exceeded)", len(c.Students))
	}
	if len(c.Waiting) != 1 || c.Waiting[0] != 3 {
		t.Fatalf("Waiting = %v, want [3]", c.Waiting)
	}
}

func TestEnroll_DuplicateRejected(t *testing.T) {
	c := testCourse(2, 10)

	if _, err := c.Enroll(1); err != nil {
		t.Fatalf("first Enroll: %v", err)
	}

	_, err := c.Enroll(1)
	if !errors.Is(err, ErrAlreadyBooked) {
		t.Fatalf("second Enroll = %v, want ErrAlreadyBooked", err)
	}
	if len(c.Students) != 1 {
		t.Fatalf("Students = %v, state must not change on error", c.Students)
	}
}

func TestEnroll_DuplicateWaitingRejected(t *testing.T) {
	c := testCourse(1, 10)

	c.Students = []int64{1}

	if _, err := c.Enroll(2); err != nil {
		t.Fatalf("Enroll(2): %v", err)
	}

	_, err := c.Enroll(2)
	if !errors.Is(err, ErrAlreadyWaiting) {
		t.Fatalf("repeat Enroll = %v, want ErrAlreadyWaiting", err)
	}
	if len(c.Waiting) != 1 {
		t.Fatalf("Waiting = %v, want single entry", c.Waiting)
	}
}

func TestStudents_DuplicateSeatsAllowedByStorage(t *testing.T) {
	// Пользователь может занимать несколько мест (например, привёл гостя):
	// такие записи создаются административно, Withdraw снимает по одному месту.
	c := testCourse(3, 10)
	c.Students = []int64{7, 7, 8}

	from, err := c.Withdraw(7)
	if err != nil || from != RemovedFromStudents {
		t.Fatalf("Withdraw = %v, %v", from, err)
	}
	if !c.IsStudent(7) {
		t.Fatalf("second seat of user 7 must remain")
	}
}

func TestWithdraw_FromWaiting(t *testing.T) {
	c := testCourse(1, 10)
	c.Students = []int64{1}
	c.Waiting = []int64{2, 3}

	from, err := c.Withdraw(2)
	if err != nil || from != RemovedFromWaiting {
		t.Fatalf("Withdraw = %v, %v; want waiting", from, err)
	}
	if len(c.Waiting) != 1 || c.Waiting[0] != 3 {
		t.Fatalf("Waiting = %v, want [3]", c.Waiting)
	}
}

func TestWithdraw_NotEnrolled(t *testing.T) {
	c := testCourse(1, 10)

	_, err := c.Withdraw(42)
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("Withdraw = %v, want ErrNotEnrolled", err)
	}
}

func TestPopNextWaiting_FIFO(t *testing.T) {
	c := testCourse(1, 10)
	c.Waiting = []int64{5, 6, 7}

	id, ok := c.PopNextWaiting()
	if !ok || id != 5 {
		t.Fatalf("PopNextWaiting = %d, %v; want 5", id, ok)
	}

	id, ok = c.PopNextWaiting()
	if !ok || id != 6 {
		t.Fatalf("PopNextWaiting = %d, %v; want 6", id, ok)
	}

	c.RequeueWaiting(6)
	if len(c.Waiting) != 2 || c.Waiting[1] != 6 {
		t.Fatalf("Waiting = %v, requeue must append to tail", c.Waiting)
	}
}

func TestPopNextWaiting_Empty(t *testing.T) {
	c := testCourse(1, 10)

	if _, ok := c.PopNextWaiting(); ok {
		t.Fatalf("PopNextWaiting on empty queue must return false")
	}
}

func TestPromote_SufficientPoints(t *testing.T) {
	c := testCourse(1, 10)
	c.Waiting = nil

	candidate := &User{ID: 2, Points: 15}

	if !c.Promote(candidate) {
		t.Fatalf("Promote must enroll candidate with sufficient points")
	}
	if candidate.Points != 5 {
		t.Fatalf("candidate points = %d, want 5", candidate.Points)
	}
	if !c.IsStudent(2) {
		t.Fatalf("candidate must be in Students after promotion")
	}
}

func TestPromote_InsufficientPointsRequeues(t *testing.T) {
	c := testCourse(1, 10)

	candidate := &User{ID: 2, Points: 3}

	if c.Promote(candidate) {
		t.Fatalf("Promote must not enroll candidate without points")
	}
	if candidate.Points != 3 {
		t.Fatalf("candidate points = %d, must be untouched", candidate.Points)
	}
	if !c.IsWaiting(2) {
		t.Fatalf("candidate must be back in Waiting")
	}
	if len(c.Students) != 0 {
		t.Fatalf("Students = %v, want empty", c.Students)
	}
}

func TestCancellableAt(t *testing.T) {
	c := testCourse(1, 10)
	window := 8 * time.Hour

	// За 9 часов до начала отмена допустима, за 7 — уже нет.
	if !c.CancellableAt(c.Time.Add(-9*time.Hour), window) {
		t.Fatalf("cancellation 9h before start must be allowed")
	}
	if c.CancellableAt(c.Time.Add(-7*time.Hour), window) {
		t.Fatalf("cancellation 7h before start must be rejected")
	}
	if !c.CancellableAt(c.Time.Add(-8*time.Hour), window) {
		t.Fatalf("cancellation exactly at the cutoff must be allowed")
	}
}

func TestExpired(t *testing.T) {
	c := testCourse(1, 10)

	if c.Expired(c.Time.Add(-time.Minute)) {
		t.Fatalf("course must not be expired before start")
	}
	if !c.Expired(c.Time) {
		t.Fatalf("course must be expired at start time")
	}
}

func TestDebit_GuardsNegativeBalance(t *testing.T) {
	u := &User{ID: 1, Points: 5}

	err := u.Debit(10)
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("Debit = %v, want ErrInsufficientPoints", err)
	}
	if u.Points != 5 {
		t.Fatalf("points = %d, balance must not change on error", u.Points)
	}

	if err := u.Debit(5); err != nil {
		t.Fatalf("Debit(5): %v", err)
	}
	if u.Points != 0 {
		t.Fatalf("points = %d, want 0", u.Points)
	}

	u.Credit(7)
	if u.Points != 7 {
		t.Fatalf("points = %d, want 7", u.Points)
	}
}

func TestBookThenCancelRoundTrip(t *testing.T) {
	// Запись и отмена в допустимый срок возвращают исходное состояние:
	// пользователь вне списка, баланс восстановлен точно.
	c := testCourse(2, 10)
	u := &User{ID: 1, Points: 25}

	out, err := c.Enroll(u.ID)
	if err != nil || out != OutcomeBooked {
		t.Fatalf("Enroll = %v, %v", out, err)
	}
	if err := u.Debit(c.PointsCost); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	if _, err := c.Withdraw(u.ID); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	u.Credit(c.PointsCost)

	if u.Points != 25 {
		t.Fatalf("points = %d, want 25", u.Points)
	}
	if c.IsStudent(u.ID) {
		t.Fatalf("user must not remain in Students")
	}
}
