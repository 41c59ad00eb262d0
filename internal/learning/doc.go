// Package learning stores repair patterns and retrieves them by similarity.
//
// # Patterns
//
// A pattern records one completed repair attempt: the patch, the classes of
// failure it targeted, and the score change it produced. Patterns that kept
// or raised the score are stored as successes; patches that were rolled back
// are stored as failures. The store is append-only: there is no update or
// delete, and the schema rejects both.
//
// # Retrieval
//
// SearchSimilar builds a keyword query from a failure context and ranks
// candidates by BM25 relevance, scaled so that successes outrank failures
// of equal relevance. Candidates whose signature shares failure classes
// with the context are always considered.
//
//	ctx := models.FailureContext{Failures: []models.Failure{
//		{Class: "missing_validation:bound", Text: "Product.price: gt=0"},
//	}}
//	patterns, err := store.SearchSimilar(context.Background(), ctx)
package learning
