// Package async provides utilities for concurrent task execution with
// error collection.
//
// [RunParallel] runs independent operations and waits for all of them.
// [RunUntilFirst] runs long-lived loops side by side and stops the group as
// soon as one of them returns. Both are built on errgroup.
package async
