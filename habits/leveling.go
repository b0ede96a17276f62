package habits

// xpPerLevel is the flat amount of experience required for each level.
// Any replacement curve must remain monotonic non-decreasing and must keep
// LevelForXP(0) == 1.
const xpPerLevel = 100

// defaultXPReward is the reward applied when a habit record carries no
// usable xp_reward value.
const defaultXPReward = 10

// LevelForXP maps accumulated experience to a level number.
// 0-99 XP is level 1, 100-199 XP is level 2, and so on.
func LevelForXP(totalXP int) int {
	if totalXP < 0 {
		totalXP = 0
	}
	return totalXP/xpPerLevel + 1
}

// XPToNextLevel returns how much experience is still needed to reach the
// next level from the given total.
func XPToNextLevel(totalXP int) int {
	return LevelForXP(totalXP)*xpPerLevel - totalXP
}
