package query_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/querycache/query"
)

func ExampleClient_Ensure() {
	c := query.New()
	ctx := context.Background()
	calls := 0

	fetchUser := func(ctx context.Context) (any, error) {
		calls++
		return "Al", nil
	}

	v1, _ := c.Ensure(ctx, query.Key{"user", 1}, fetchUser)
	v2, _ := c.Ensure(ctx, query.Key{"user", 1}, fetchUser)
	fmt.Println(v1, v2)
	fmt.Println("Fetch calls:", calls)
	// Output:
	// Al Al
	// Fetch calls: 1
}

func ExampleClient_Invalidate() {
	c := query.New()
	ctx := context.Background()
	key := query.Key{"todos"}

	_, _ = c.Ensure(ctx, key, func(context.Context) (any, error) { return []string{"a"}, nil })

	sub := query.NewSubscriber(func() { fmt.Println("todos changed") })
	_ = c.Subscribe(key, sub)
	defer c.Unsubscribe(key, sub)

	_ = c.Invalidate(ctx, key)
	_, cached := c.Get(key)
	fmt.Println("Cached after invalidate:", cached)
	// Output:
	// todos changed
	// Cached after invalidate: false
}

func ExampleClient_Refetch() {
	c := query.New()
	ctx := context.Background()
	n := 0

	_, _ = c.Ensure(ctx, query.Key{"counter"}, func(context.Context) (any, error) {
		n++
		return n, nil
	})

	v, _ := c.Refetch(ctx, query.Key{"counter"})
	fmt.Println("Refetched:", v)

	_, err := c.Refetch(ctx, query.Key{"unknown"})
	fmt.Println("Missing fetcher:", errors.Is(err, query.ErrNoFetcher))
	// Output:
	// Refetched: 2
	// Missing fetcher: true
}

func ExampleClient_RegisterPlugin() {
	c := query.New()
	c.RegisterPlugin(func(*query.Client) *query.Hooks {
		return &query.Hooks{
			OnQueryStart:   func(_ context.Context, key string) { fmt.Println("start", key) },
			OnQuerySuccess: func(_ context.Context, key string, v any) { fmt.Println("success", key, v) },
		}
	})

	_, _ = c.Ensure(context.Background(), query.Key{"answer"}, func(context.Context) (any, error) {
		return 42, nil
	})
	// Output:
	// start ["answer"]
	// success ["answer"] 42
}

func ExampleEnsureAs() {
	c := query.New()

	type user struct{ Name string }
	u, err := query.EnsureAs(context.Background(), c, query.Key{"user", 7}, func(context.Context) (user, error) {
		return user{Name: "Bo"}, nil
	})
	fmt.Println(u.Name, err)

	cached, ok := query.GetAs[user](c, query.Key{"user", 7})
	fmt.Println(cached.Name, ok)
	// Output:
	// Bo <nil>
	// Bo true
}

func ExampleCanonical() {
	k, _ := query.Canonical(query.Key{"list", map[string]any{"page": 2, "filter": "done"}})
	fmt.Println(k)

	empty, _ := query.Canonical(nil)
	fmt.Println(empty)
	// Output:
	// ["list",{"filter":"done","page":2}]
	// #default
}
