package gait

// A starterFunc picks which of the eligible legs may begin a step this tick.
// Eligibility (deviation triggers, movement intent) is already decided; the
// policy only arbitrates balance between groups.
type starterFunc func(c *Controller, eligible []int) []int

const (
	PolicyAlternate = "alternate"
	PolicyTripod    = "tripod"
	PolicyGreedy    = "greedy"
)

func starterFor(name string) (starterFunc, bool) {
	switch name {
	case PolicyAlternate:
		return pickAlternate, true
	case PolicyTripod:
		return pickTripod, true
	case PolicyGreedy:
		return pickGreedy, true
	default:
		return nil, false
	}
}

// pickAlternate: strict two-group alternation. A leg may start only while no
// leg of any other group is mid-step, so at most one group is ever airborne.
func pickAlternate(c *Controller, eligible []int) []int {
	airborne := -1
	for _, leg := range c.legs {
		if leg.Stepping {
			airborne = leg.Group
			break
		}
	}

	allowed := airborne
	if allowed == -1 {
		// Nothing airborne: the most deviant eligible leg's group goes.
		best := -1
		for _, i := range eligible {
			if best == -1 || c.legs[i].deviation > c.legs[best].deviation {
				best = i
			}
		}
		if best == -1 {
			return nil
		}
		allowed = c.legs[best].Group
	}

	var out []int
	for _, i := range eligible {
		if c.legs[i].Group == allowed {
			out = append(out, i)
		}
	}
	return out
}

// pickTripod: parity groups step as a unit. When any member of a group
// triggers, the whole group lifts; the other group may not start until every
// airborne leg has landed.
func pickTripod(c *Controller, eligible []int) []int {
	for _, leg := range c.legs {
		if leg.Stepping {
			return nil
		}
	}
	group := -1
	for _, i := range eligible {
		g := c.legs[i].Group
		if group == -1 || (g != c.lastGroup && group == c.lastGroup) {
			group = g
		}
	}
	if group == -1 {
		return nil
	}
	var out []int
	for i, leg := range c.legs {
		if leg.Group == group && !leg.Stepping {
			out = append(out, i)
		}
	}
	return out
}

// pickGreedy: single-leg scheduling. Only one leg is ever airborne; among
// eligible legs the largest deviation wins, weighted up when its group
// differs from the previous step's so the walk still alternates sides.
func pickGreedy(c *Controller, eligible []int) []int {
	for _, leg := range c.legs {
		if leg.Stepping {
			return nil
		}
	}
	best, bestScore := -1, 0.0
	for _, i := range eligible {
		score := c.legs[i].deviation
		if c.legs[i].Group != c.lastGroup {
			score *= 1.25
		}
		if best == -1 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best == -1 {
		return nil
	}
	return []int{best}
}
