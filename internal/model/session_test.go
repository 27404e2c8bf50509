package model

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCanTransition(t *testing.T) {
	Convey("session status transitions", t, func() {
		Convey("the happy connection path is legal", func() {
			So(CanTransition(SessionConnecting, SessionQRCode), ShouldBeTrue)
			So(CanTransition(SessionQRCode, SessionConnected), ShouldBeTrue)
			So(CanTransition(SessionConnected, SessionDisconnected), ShouldBeTrue)
			So(CanTransition(SessionConnected, SessionLoggedOut), ShouldBeTrue)
		})

		Convey("failed is reachable from any state", func() {
			for _, from := range []SessionStatus{
				SessionConnecting, SessionQRCode, SessionConnected,
				SessionDisconnected, SessionLoggedOut,
			} {
				So(CanTransition(from, SessionFailed), ShouldBeTrue)
			}
		})

		Convey("disconnected and logged out sessions may re-provision", func() {
			So(CanTransition(SessionDisconnected, SessionConnecting), ShouldBeTrue)
			So(CanTransition(SessionLoggedOut, SessionQRCode), ShouldBeTrue)
			So(CanTransition(SessionFailed, SessionConnecting), ShouldBeTrue)
		})

		Convey("illegal moves are rejected", func() {
			So(CanTransition(SessionConnected, SessionConnecting), ShouldBeFalse)
			So(CanTransition(SessionLoggedOut, SessionConnected), ShouldBeFalse)
			So(CanTransition(SessionConnecting, SessionDisconnected), ShouldBeFalse)
		})

		Convey("self transitions are rejected, including failed to failed", func() {
			So(CanTransition(SessionConnected, SessionConnected), ShouldBeFalse)
			So(CanTransition(SessionFailed, SessionFailed), ShouldBeFalse)
		})
	})
}

func TestStatusForEvent(t *testing.T) {
	Convey("connection events map to session statuses", t, func() {
		status, ok := StatusForEvent(EventConnected)
		So(ok, ShouldBeTrue)
		So(status, ShouldEqual, SessionConnected)

		status, ok = StatusForEvent(EventQRCode)
		So(ok, ShouldBeTrue)
		So(status, ShouldEqual, SessionQRCode)

		Convey("message events do not change connection state", func() {
			_, ok := StatusForEvent(EventMessage)
			So(ok, ShouldBeFalse)
		})
	})
}
