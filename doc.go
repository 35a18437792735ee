// Package minq is a fluent query, update and index layer over a document
// database. It adds a filter-keyed result cache and reconciliation of
// declared indexes against the indexes a collection actually has.
//
// # Models
//
//	type Person struct {
//	    minq.Record `bson:",inline"`
//	    Name        string   `bson:"name"`
//	    Age         int      `bson:"age"`
//	    Tags        []string `bson:"tags"`
//	}
//
//	const (
//	    PersonName minq.Field = "name"
//	    PersonAge  minq.Field = "age"
//	)
//
//	func (Person) Indexes() []minq.Index {
//	    return []minq.Index{minq.NewIndex().Ascending(PersonName).MustBuild()}
//	}
//
// # Requests
//
//	client, _ := minq.Connect(ctx, "mongodb://localhost:27017", "app")
//	people, _ := minq.New[Person](ctx, client, "people")
//
//	n, _ := people.Where(func(f *minq.FilterChain) {
//	    f.EqualTo(PersonName, "a")
//	}).Update(ctx, func(u *minq.UpdateChain) {
//	    u.Set(PersonName, "b").Increment(PersonAge, 1)
//	})
//
// Every RequestChain runs exactly one terminal operation (Count, Delete,
// Insert, ToList, Update, Upsert or Project); a second call fails with
// ErrConsumed.
//
// # Transactions
//
//	tx, _ := client.StartTransaction(ctx)
//	_, err := people.Where(byName).WithTransaction(tx).Delete(ctx)
//	if err == nil {
//	    err = tx.Commit(ctx)
//	}
//
// A failed operation aborts its transaction; later chains bound to it are
// skipped and fire OnTransactionAborted.
package minq
