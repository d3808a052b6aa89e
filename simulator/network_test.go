package simulator

import "testing"

func TestSwitchedNetworkSingleMessage(t *testing.T) {
	loop := NewEventLoop()

	switcher := NewGreedyDropSwitcher(2, 2.0)
	node1, node2 := NewNode().Port(loop), NewNode().Port(loop)
	network := NewSwitcherNetwork(switcher, []*Node{node1.Node, node2.Node}, 3.0)

	loop.Go(func(h *Handle) {
		network.Send(h, &Message{
			Source:  node1,
			Dest:    node2,
			Message: "hi node 2",
			Size:    124.0,
		})
		if val := node1.Recv(h).Message; val != "hi node 1" {
			t.Errorf("unexpected message: %s", val)
		}
	})
	loop.Go(func(h *Handle) {
		network.Send(h, &Message{
			Source:  node2,
			Dest:    node1,
			Message: "hi node 1",
			Size:    124.0,
		})
		if val := node2.Recv(h).Message; val != "hi node 2" {
			t.Errorf("unexpected message: %s", val)
		}
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	expectedTime := 124.0/2.0 + 3.0
	if loop.Time() != expectedTime {
		t.Errorf("time should be %f but got %f", expectedTime, loop.Time())
	}
}

func TestSwitchedNetworkOversubscribed(t *testing.T) {
	loop := NewEventLoop()

	dataRate := 4.0
	switcher := NewGreedyDropSwitcher(2, dataRate)
	node1, node2 := NewNode().Port(loop), NewNode().Port(loop)
	network := NewSwitcherNetwork(switcher, []*Node{node1.Node, node2.Node}, 2.0)

	loop.Go(func(h *Handle) {
		network.Send(h, &Message{
			Source:  node1,
			Dest:    node2,
			Message: "hi node 2 (message 1)",
			Size:    123.0,
		})
		network.Send(h, &Message{
			Source:  node1,
			Dest:    node2,
			Message: "hi node 2 (message 2)",
			Size:    124.0,
		})
		if val := node1.Recv(h).Message; val != "hi node 1" {
			t.Errorf("unexpected message: %s", val)
		}
		expectedTime := 1.0 + 2.0 + 124.0/dataRate
		if h.Time() != expectedTime {
			t.Errorf("expected time %f but got %f", expectedTime, h.Time())
		}
	})

	loop.Go(func(h *Handle) {
		// Make sure the other messages are in-flight.
		// This helps us test for the fact that we can
		// reschedule a message before the other messages.
		h.Sleep(1)

		network.Send(h, &Message{
			Source:  node2,
			Dest:    node1,
			Message: "hi node 1",
			Size:    124.0,
		})
		if val := node2.Recv(h).Message; val != "hi node 2 (message 1)" {
			t.Errorf("unexpected message: %s", val)
		}
		expectedTime := 2.0 + 2.0*123.0/dataRate
		if h.Time() != expectedTime {
			t.Errorf("expected time %f but got %f", expectedTime, h.Time())
		}
		if val := node2.Recv(h).Message; val != "hi node 2 (message 2)" {
			t.Errorf("unexpected message: %s", val)
		}
		expectedTime += 1.0 / dataRate
		if h.Time() != expectedTime {
			t.Errorf("expected time %f but got %f", expectedTime, h.Time())
		}
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	expectedTime := 2.0 + 2.0*123.0/dataRate + 1.0/dataRate
	if loop.Time() != expectedTime {
		t.Errorf("time should be %f but got %f", expectedTime, loop.Time())
	}

	// Make sure that there are no stray messages.
	for _, port := range []*Port{node1, node2} {
		port := port
		loop.Go(func(h *Handle) {
			h.Poll(port.Incoming)
		})
		if err := loop.Run(); err != ErrDeadlock {
			t.Errorf("expected deadlock error but got %v", err)
		}
	}
}

func TestOrderedNetworkOrder(t *testing.T) {
	loop := NewEventLoopSeed(1337)
	network := NewOrderedNetwork(1.0, 5.0)
	sender, receiver := NewNode().Port(loop), NewNode().Port(loop)

	loop.Go(func(h *Handle) {
		for i := 0; i < 20; i++ {
			network.Send(h, &Message{
				Source:  sender,
				Dest:    receiver,
				Message: i,
				Size:    float64(20 - i),
			})
		}
	})
	loop.Go(func(h *Handle) {
		for i := 0; i < 20; i++ {
			if val := receiver.Recv(h).Message; val != i {
				t.Errorf("message %d: got %v", i, val)
			}
		}
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
}

func TestHierarchicalNetworkLocality(t *testing.T) {
	loop := NewEventLoop()
	local := NewHostNode("a").Port(loop)
	neighbor := NewHostNode("a").Port(loop)
	remote := NewHostNode("b").Port(loop)
	network := &HierarchicalNetwork{
		Local:  NewOrderedNetwork(10.0, 0),
		Remote: NewOrderedNetwork(1.0, 0),
	}

	loop.Go(func(h *Handle) {
		network.Send(h,
			&Message{Source: local, Dest: neighbor, Message: "near", Size: 10},
			&Message{Source: local, Dest: remote, Message: "far", Size: 10},
		)
	})
	arrivals := make(chan float64, 2)
	for _, port := range []*Port{neighbor, remote} {
		port := port
		loop.Go(func(h *Handle) {
			port.Recv(h)
			arrivals <- h.Time()
		})
	}

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if loop.Time() != 10.0 {
		t.Errorf("expected final time 10 but got %f", loop.Time())
	}
	first, second := <-arrivals, <-arrivals
	if first != 1.0 || second != 10.0 {
		t.Errorf("unexpected arrival times: %f, %f", first, second)
	}
	if !local.Node.SameHost(neighbor.Node) || local.Node.SameHost(remote.Node) {
		t.Error("incorrect host sharing")
	}
	if NewNode().SameHost(NewNode()) {
		t.Error("anonymous hosts should not be shared")
	}
}
