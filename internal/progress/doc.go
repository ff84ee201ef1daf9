// Package progress aggregates weighted progress events from acquisition
// workers into one cumulative position.
//
// # Usage
//
//	agg := progress.NewAggregator(progress.Total(units, weight), workers, observer)
//	go agg.Run(ctx)
//
//	// Workers send increments
//	progress.Send(ctx, agg.Events(), weight, false)
//
//	// The pipeline signals completion
//	agg.Finish(ctx)
//
// # Output Format
//
//	[histdata] EURUSD 2001-2002 | Workers: 2 | Steps: 5
//	[histdata] Progress:  60% | 3/5 | Elapsed: 4s
//	[histdata] Progress: 100% | 5/5 | Complete!
package progress
