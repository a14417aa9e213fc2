/*
Package scheduler implements the YaMS weighted-metrics scheduling
policy: one full scheduling round that walks the priority-sorted
application registry, scores every (application, working mode,
cluster) candidate through the contribution framework (pkg/contrib),
and reserves the winners into a fresh resource-accounter view.

# Round structure

	1. Open a fresh RA view.
	2. Enumerate cluster ids from the resource registry.
	3. For each priority class, highest first:
	   - init the fairness contribution for this class
	   - bind and score every candidate, in parallel across apps
	   - sort candidates by (metric desc, goal-gap>0 first, value desc)
	   - reserve candidates in order, skipping clusters marked full
	4. Return the view, left open for the caller to adopt or discard.

A single application is scheduled at most once per round; an
application none of whose candidates could be reserved is marked
blocked.

# Concurrency

Scoring the (awm, cluster) cartesian product of one priority class's
applications is dispatched across an errgroup.Group bounded by
GOMAXPROCS workers - scoring only reads the view, so there is no
contention beyond the usual read-mostly RA view pattern (pkg/resources).
Reserve itself runs sequentially, since it is the one step that
mutates shared state.
*/
package scheduler
