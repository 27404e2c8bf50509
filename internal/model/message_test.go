package model

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStatusesBelow(t *testing.T) {
	Convey("StatusesBelow drives monotonic status updates", t, func() {
		Convey("read can be reached from every earlier status", func() {
			below := StatusesBelow(MessageRead)
			So(below, ShouldContain, MessagePending)
			So(below, ShouldContain, MessageSent)
			So(below, ShouldContain, MessageDelivered)
			So(below, ShouldNotContain, MessageRead)
			So(below, ShouldNotContain, MessageFailed)
		})

		Convey("sent only follows pending", func() {
			below := StatusesBelow(MessageSent)
			So(below, ShouldResemble, []MessageStatus{MessagePending})
		})

		Convey("an unknown target matches nothing", func() {
			So(StatusesBelow(MessageStatus("bogus")), ShouldBeNil)
		})
	})
}

func TestParseMessageStatus(t *testing.T) {
	Convey("provider status strings are validated", t, func() {
		for _, s := range []string{"sent", "delivered", "read", "failed"} {
			st, ok := ParseMessageStatus(s)
			So(ok, ShouldBeTrue)
			So(string(st), ShouldEqual, s)
		}

		Convey("pending never arrives from the provider", func() {
			_, ok := ParseMessageStatus("pending")
			So(ok, ShouldBeFalse)
		})

		Convey("garbage is rejected", func() {
			_, ok := ParseMessageStatus("seen")
			So(ok, ShouldBeFalse)
		})
	})
}
