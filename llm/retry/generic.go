package retry

import "context"

// DoValue is Do for functions that produce a value.
//
//	body, err := retry.DoValue(ctx, r, func(ctx context.Context) ([]byte, error) {
//	    return send(ctx)
//	})
func DoValue[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
