package content

// The built-in catalog. Variant order matters: first is the most
// energetic phrasing (favored in the morning), last is the calmest
// (favored by the gentle style).
func builtinCatalog() map[Type][]template {
	return map[Type][]template{
		TypeTaskReminder: {
			{
				title: "Time to tackle {taskName}!",
				body:  "{taskName} is due {dueDate}. Knock it out today and stay ahead.",
			},
			{
				title: "Reminder: {taskName}",
				body:  "{taskName} is coming up on {dueDate}.",
			},
			{
				title: "{taskName} is on your list",
				body:  "Whenever you have a moment, {taskName} is due {dueDate}. No rush.",
			},
		},
		TypeEquipmentService: {
			{
				title: "{equipmentName} service is due soon",
				body:  "Schedule service for {equipmentName} this week to keep it running smoothly.",
			},
			{
				title: "Service window: {equipmentName}",
				body:  "{equipmentName} has service coming up in {daysLeft} days.",
			},
			{
				title: "A heads-up about {equipmentName}",
				body:  "{equipmentName} could use a service visit when it suits you.",
			},
		},
		TypeEquipmentAttention: {
			{
				title: "{equipmentName} needs attention",
				body:  "Something about {equipmentName} needs a look. A quick check now can prevent a costly repair.",
			},
			{
				title: "Check on {equipmentName}",
				body:  "{equipmentName} was flagged for attention. Worth a look when you're nearby.",
			},
		},
		TypeAchievement: {
			{
				title: "Achievement unlocked: {achievementName}!",
				body:  "You earned {achievementName}. Your home thanks you.",
			},
			{
				title: "Nice work: {achievementName}",
				body:  "{achievementName} is yours. Keep it up.",
			},
		},
		TypeMoneySaved: {
			{
				title: "You saved {amount}!",
				body:  "Staying on top of maintenance has saved you about {amount} so far.",
			},
			{
				title: "Maintenance is paying off",
				body:  "Your upkeep habits have saved roughly {amount} in avoided repairs.",
			},
		},
		TypeStreak: {
			{
				title: "{streakDays}-day streak!",
				body:  "You've kept your maintenance streak alive for {streakDays} days. Don't break the chain.",
			},
			{
				title: "Streak going strong",
				body:  "That's {streakDays} days of consistent upkeep. Quietly impressive.",
			},
		},
		TypeSeasonalSuggestion: {
			{
				title: "Get your home ready for {season}",
				body:  "A few {season} tasks now will save headaches later. Open the app for suggestions.",
			},
			{
				title: "{season} checklist",
				body:  "It's a good time for seasonal upkeep. See what fits your home this {season}.",
			},
		},
		TypeWeatherOpportunity: {
			{
				title: "Perfect weather for outdoor tasks",
				body:  "{weather} today, a great window for outdoor maintenance.",
			},
			{
				title: "Weather window",
				body:  "Forecast says {weather}. Outdoor jobs will be easier than usual.",
			},
		},
	}
}

func builtinEmoji() map[Type]string {
	return map[Type]string{
		TypeTaskReminder:       "📋",
		TypeEquipmentService:   "🔧",
		TypeEquipmentAttention: "⚠️",
		TypeAchievement:        "🏆",
		TypeMoneySaved:         "💰",
		TypeStreak:             "🔥",
		TypeSeasonalSuggestion: "🍂",
		TypeWeatherOpportunity: "☀️",
	}
}
