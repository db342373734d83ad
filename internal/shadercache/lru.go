package shadercache

// node is an entry in the recency list. Head is the most recently used.
type node struct {
	key   Key
	words []uint32
	prev  *node
	next  *node
}

type recency struct {
	head *node
	tail *node
	len  int
}

func (l *recency) pushFront(n *node) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
	l.len++
}

func (l *recency) moveToFront(n *node) {
	if n == l.head {
		return
	}
	l.unlink(n)
	l.pushFront(n)
}

// popBack removes and returns the least recently used node, or nil.
func (l *recency) popBack() *node {
	n := l.tail
	if n != nil {
		l.unlink(n)
	}
	return n
}

func (l *recency) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev = nil
	n.next = nil
	l.len--
}
