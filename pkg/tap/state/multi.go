package state

// MultiWriter fans one snapshot out to several writers, stopping at the
// first failure.
func MultiWriter(writers ...Writer) Writer {
	return multiWriter(writers)
}

type multiWriter []Writer

func (m multiWriter) WriteState(snapshot map[string]interface{}) error {
	for _, w := range m {
		if err := w.WriteState(snapshot); err != nil {
			return err
		}
	}
	return nil
}
