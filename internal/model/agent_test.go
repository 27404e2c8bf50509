package model

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestAgentActiveAt(t *testing.T) {
	Convey("AgentProfile.ActiveAt evaluates service hours", t, func() {
		// 2026-08-31 is a Monday
		monday10 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
		monday20 := time.Date(2026, 8, 31, 20, 0, 0, 0, time.UTC)
		sunday12 := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

		Convey("no configured hours means always active", func() {
			agent := &AgentProfile{}
			So(agent.ActiveAt(monday10), ShouldBeTrue)
			So(agent.ActiveAt(sunday12), ShouldBeTrue)
		})

		Convey("inside the window is active, outside is not", func() {
			agent := &AgentProfile{Hours: []HourWindow{
				{Day: time.Monday, Start: "09:00", End: "18:00"},
			}}
			So(agent.ActiveAt(monday10), ShouldBeTrue)
			So(agent.ActiveAt(monday20), ShouldBeFalse)
		})

		Convey("a weekday with no window is inactive", func() {
			agent := &AgentProfile{Hours: []HourWindow{
				{Day: time.Monday, Start: "09:00", End: "18:00"},
			}}
			So(agent.ActiveAt(sunday12), ShouldBeFalse)
		})

		Convey("the timezone shifts the evaluation", func() {
			// 10:00 UTC is 07:00 in São Paulo (UTC-3)
			agent := &AgentProfile{
				Timezone: "America/Sao_Paulo",
				Hours: []HourWindow{
					{Day: time.Monday, Start: "09:00", End: "18:00"},
				},
			}
			So(agent.ActiveAt(monday10), ShouldBeFalse)

			// 13:00 UTC is 10:00 in São Paulo
			So(agent.ActiveAt(monday10.Add(3*time.Hour)), ShouldBeTrue)
		})

		Convey("multiple windows on the same day", func() {
			agent := &AgentProfile{Hours: []HourWindow{
				{Day: time.Monday, Start: "09:00", End: "12:00"},
				{Day: time.Monday, Start: "14:00", End: "18:00"},
			}}
			So(agent.ActiveAt(monday10), ShouldBeTrue)
			So(agent.ActiveAt(time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC)), ShouldBeFalse)
			So(agent.ActiveAt(time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)), ShouldBeTrue)
		})
	})
}
