package service

import (
	"math"
	"sort"

	"github.com/aprovamais/studyplan-api/internal/models"
)

// lessonItem is a fully-resolved schedulable unit. Null catalog values
// (duration, priority) are resolved before one of these exists, so the
// allocator never handles "maybe" values.
type lessonItem struct {
	ID             string
	Name           string
	TrackID        string
	TrackName      string
	DisciplineID   string
	DisciplineName string
	Minutes        int
}

// trackQueue is the allocator's per-track working state: the track's
// lessons in pedagogical order, a cursor at the next unplaced one, and
// proportional-need bookkeeping for the parallel modality.
type trackQueue struct {
	ID          string
	Name        string
	Lessons     []lessonItem
	CostMinutes int
	Weight      float64

	cursor        int
	placedMinutes int
}

func (t *trackQueue) exhausted() bool {
	return t.cursor >= len(t.Lessons)
}

func (t *trackQueue) next() lessonItem {
	return t.Lessons[t.cursor]
}

func (t *trackQueue) advance(item lessonItem) {
	t.cursor++
	t.placedMinutes += item.Minutes
}

// placement assigns one lesson to a week slot.
type placement struct {
	Lesson     lessonItem
	WeekNumber int
	Position   int
}

// buildTracks groups collected lessons by track, preserving the
// collector's order (track position, module ordinal, lesson ordinal) both
// across and within tracks. Weights are cost shares of the grand total;
// with a zero grand total every weight is zero and there is nothing to
// place.
func buildTracks(items []lessonItem) []*trackQueue {
	byID := make(map[string]*trackQueue)
	order := make([]*trackQueue, 0)

	grandTotal := 0
	for _, item := range items {
		track, ok := byID[item.TrackID]
		if !ok {
			track = &trackQueue{ID: item.TrackID, Name: item.TrackName}
			byID[item.TrackID] = track
			order = append(order, track)
		}
		track.Lessons = append(track.Lessons, item)
		track.CostMinutes += item.Minutes
		grandTotal += item.Minutes
	}

	if grandTotal > 0 {
		for _, track := range order {
			track.Weight = float64(track.CostMinutes) / float64(grandTotal)
		}
	}

	return order
}

// orderTracks applies an explicit preference order when given: preferred
// tracks first, in the stated order, then the remaining tracks in their
// natural order. Unknown ids in the preference list are ignored.
func orderTracks(tracks []*trackQueue, preference []string) []*trackQueue {
	if len(preference) == 0 {
		return tracks
	}
	byID := make(map[string]*trackQueue, len(tracks))
	for _, track := range tracks {
		byID[track.ID] = track
	}
	ordered := make([]*trackQueue, 0, len(tracks))
	seen := make(map[string]bool, len(tracks))
	for _, id := range preference {
		if track, ok := byID[id]; ok && !seen[id] {
			ordered = append(ordered, track)
			seen[id] = true
		}
	}
	for _, track := range tracks {
		if !seen[track.ID] {
			ordered = append(ordered, track)
		}
	}
	return ordered
}

// checkFeasibility compares the total effective cost against the total
// active-week capacity. It returns nil when the content fits, otherwise
// the diagnostic numbers including the minimum daily-hours value that
// would make the same horizon feasible.
func checkFeasibility(weeks []planWeek, tracks []*trackQueue, daysPerWeek int) *models.InfeasibleDetails {
	required := 0
	for _, track := range tracks {
		required += track.CostMinutes
	}

	available := 0
	activeWeeks := 0
	for _, week := range weeks {
		if week.Vacation {
			continue
		}
		available += week.CapacityMinutes
		activeWeeks++
	}

	if required <= available {
		return nil
	}

	activeDays := activeWeeks * daysPerWeek
	suggested := 0.0
	if activeDays > 0 {
		suggested = math.Ceil(float64(required)/float64(activeDays*60)*10) / 10
	}

	return &models.InfeasibleDetails{
		RequiredMinutes:     required,
		AvailableMinutes:    available,
		RequiredHours:       roundHours(required),
		AvailableHours:      roundHours(available),
		SuggestedDailyHours: suggested,
	}
}

func roundHours(minutes int) float64 {
	return math.Round(float64(minutes)/60*10) / 10
}

// allocate distributes every lesson of every track over the active weeks
// under the requested interleaving policy. It is a pure function over its
// inputs; all I/O happens before and after it.
func allocate(weeks []planWeek, tracks []*trackQueue, modality models.PlanModality, preference []string) []placement {
	if modality == models.PlanModalitySequential {
		return allocateSequential(weeks, orderTracks(tracks, preference))
	}
	return allocateParallel(weeks, tracks)
}

// weekCursor tracks per-week remaining capacity and ordinal counters over
// the active (non-vacation) weeks of the horizon.
type weekCursor struct {
	weeks     []planWeek
	active    []int // indexes into weeks
	remaining []int // parallel to active
	position  map[int]int
	current   int
}

func newWeekCursor(weeks []planWeek) *weekCursor {
	cursor := &weekCursor{weeks: weeks, position: make(map[int]int)}
	for i, week := range weeks {
		if week.Vacation {
			continue
		}
		cursor.active = append(cursor.active, i)
		cursor.remaining = append(cursor.remaining, week.CapacityMinutes)
	}
	return cursor
}

func (c *weekCursor) done() bool {
	return c.current >= len(c.active)
}

// skipExhausted moves the cursor past weeks with no remaining capacity.
// The cursor only ever moves forward.
func (c *weekCursor) skipExhausted() {
	for !c.done() && c.remaining[c.current] <= 0 {
		c.current++
	}
}

func (c *weekCursor) currentWeekNumber() int {
	return c.weeks[c.active[c.current]].Number
}

func (c *weekCursor) currentRemaining() int {
	return c.remaining[c.current]
}

func (c *weekCursor) currentEmpty() bool {
	return c.position[c.currentWeekNumber()] == 0
}

// budgetFrom sums the capacity of the active weeks from the cursor onward,
// the "remaining budget" term of the parallel need score.
func (c *weekCursor) budgetFrom() int {
	total := 0
	for i := c.current; i < len(c.active); i++ {
		total += c.weeks[c.active[i]].CapacityMinutes
	}
	return total
}

// place records a lesson in the week at the cursor and burns capacity.
func (c *weekCursor) place(item lessonItem) placement {
	number := c.currentWeekNumber()
	c.remaining[c.current] -= item.Minutes
	return c.placeIn(number, item)
}

func (c *weekCursor) placeIn(weekNumber int, item lessonItem) placement {
	c.position[weekNumber]++
	return placement{Lesson: item, WeekNumber: weekNumber, Position: c.position[weekNumber]}
}

// lastActiveWeekNumber is the spill target once the horizon is exhausted.
func (c *weekCursor) lastActiveWeekNumber() int {
	if len(c.active) == 0 {
		return 0
	}
	return c.weeks[c.active[len(c.active)-1]].Number
}

// allocateSequential walks tracks in order and fills week after week. A
// lesson larger than the current week's remaining capacity is still placed
// there when the week is otherwise empty, so a single oversized lesson can
// never deadlock the walk. Once every active week is spent, whatever is
// left lands on the final week; losing a lesson is never an option.
func allocateSequential(weeks []planWeek, tracks []*trackQueue) []placement {
	cursor := newWeekCursor(weeks)
	placements := make([]placement, 0)

	for _, track := range tracks {
		for !track.exhausted() {
			item := track.next()

			cursor.skipExhausted()
			if cursor.done() {
				placements = append(placements, spillRemainder(cursor, tracks)...)
				return placements
			}

			if item.Minutes <= cursor.currentRemaining() || cursor.currentEmpty() {
				placements = append(placements, cursor.place(item))
				track.advance(item)
				continue
			}

			// Does not fit and the week already has content: advance.
			cursor.current++
		}
	}

	return placements
}

// allocateParallel runs a weighted round-robin: at every week the track
// with the highest outstanding need (weight × remaining budget − minutes
// already placed) goes next, ties resolved by track id so the result is
// deterministic. A track whose next lesson does not fit sits out the rest
// of the week; the week closes when every remaining track is sitting out.
func allocateParallel(weeks []planWeek, tracks []*trackQueue) []placement {
	cursor := newWeekCursor(weeks)
	placements := make([]placement, 0)

	for !cursor.done() {
		cursor.skipExhausted()
		if cursor.done() {
			break
		}

		budget := cursor.budgetFrom()
		blocked := make(map[string]bool)

		for {
			track := pickNeediest(tracks, blocked, budget)
			if track == nil {
				if cursor.currentEmpty() && anyRemaining(tracks) {
					// Nothing fits an empty week: force the
					// neediest track's lesson in rather than
					// deadlock on a week nothing can use.
					forced := pickNeediest(tracks, nil, budget)
					item := forced.next()
					placements = append(placements, cursor.place(item))
					forced.advance(item)
				}
				break
			}
			item := track.next()
			if item.Minutes <= cursor.currentRemaining() {
				placements = append(placements, cursor.place(item))
				track.advance(item)
				continue
			}
			blocked[track.ID] = true
		}

		cursor.current++
	}

	if anyRemaining(tracks) {
		placements = append(placements, spillRemainder(cursor, tracks)...)
	}

	return placements
}

// pickNeediest returns the unblocked, unexhausted track with the highest
// need score, or nil when none is left for this week.
func pickNeediest(tracks []*trackQueue, blocked map[string]bool, budget int) *trackQueue {
	var best *trackQueue
	bestNeed := math.Inf(-1)
	for _, track := range tracks {
		if track.exhausted() || blocked[track.ID] {
			continue
		}
		need := track.Weight*float64(budget) - float64(track.placedMinutes)
		if best == nil || need > bestNeed || (need == bestNeed && track.ID < best.ID) {
			best = track
			bestNeed = need
		}
	}
	return best
}

func anyRemaining(tracks []*trackQueue) bool {
	for _, track := range tracks {
		if !track.exhausted() {
			return true
		}
	}
	return false
}

// spillRemainder appends every unplaced lesson to the final active week.
// The feasibility check should have prevented reaching this state, but if
// capacity math and reality disagree the final week absorbs the overflow
// and is reported overloaded instead of lessons silently vanishing.
func spillRemainder(cursor *weekCursor, tracks []*trackQueue) []placement {
	last := cursor.lastActiveWeekNumber()
	if last == 0 {
		return nil
	}
	spilled := make([]placement, 0)
	for _, track := range tracks {
		for !track.exhausted() {
			item := track.next()
			spilled = append(spilled, cursor.placeIn(last, item))
			track.advance(item)
		}
	}
	return spilled
}

// usedMinutesByWeek folds placements into per-week effective-minute totals.
func usedMinutesByWeek(placements []placement) map[int]int {
	used := make(map[int]int)
	for _, p := range placements {
		used[p.WeekNumber] += p.Lesson.Minutes
	}
	return used
}

// sortPlacements orders placements by (week, position) for stable output.
func sortPlacements(placements []placement) {
	sort.Slice(placements, func(i, j int) bool {
		if placements[i].WeekNumber == placements[j].WeekNumber {
			return placements[i].Position < placements[j].Position
		}
		return placements[i].WeekNumber < placements[j].WeekNumber
	})
}
